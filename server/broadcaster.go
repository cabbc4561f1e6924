package server

import (
	"sync"

	"homedash/models"

	log "github.com/sirupsen/logrus"
)

const clientBuffer = 16

// Event is a named server-sent event with a JSON payload
type Event struct {
	Name    string
	Payload interface{}
}

// Broadcaster fans events out to every connected SSE client. Sends never
// block: a client whose buffer is full misses the event.
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan Event
	closed  bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan Event),
	}
}

func (b *Broadcaster) broadcast(event Event) {
	b.RLock()
	defer b.RUnlock()

	for key, client := range b.clients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.WithFields(log.Fields{
				"key":   key,
				"event": event.Name,
			}).Warn("Client channel full, skipping event")
		}
	}
}

func (b *Broadcaster) BroadcastStatusChange(event models.StatusChangeEvent) {
	b.broadcast(Event{Name: "status-change", Payload: event})
}

func (b *Broadcaster) BroadcastFeedRefresh(event models.FeedRefreshEvent) {
	b.broadcast(Event{Name: "feed-refresh", Payload: event})
}

// AddClient registers a new client and returns the channel its events
// arrive on. The channel is closed when the client is removed or the
// broadcaster shuts down.
func (b *Broadcaster) AddClient(key string) <-chan Event {
	b.Lock()
	defer b.Unlock()

	client := make(chan Event, clientBuffer)
	if b.closed {
		close(client)
		return client
	}
	if previous, ok := b.clients[key]; ok {
		close(previous)
	}
	b.clients[key] = client

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
	return client
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) ClientCount() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
	b.closed = true
}
