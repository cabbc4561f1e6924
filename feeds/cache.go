package feeds

import (
	"sync"

	"homedash/models"

	"github.com/google/uuid"
)

// Cache maps channel ids to their most recent feed snapshot. The refresher
// is the only writer; HTTP handlers only read. Every method holds the lock
// for the map operation alone.
type Cache struct {
	mu      sync.RWMutex
	order   []uuid.UUID
	entries map[uuid.UUID]models.FeedSnapshot
}

func NewCache() *Cache {
	return &Cache{entries: make(map[uuid.UUID]models.FeedSnapshot)}
}

// Snapshot returns the cached snapshot of a channel, if any
func (c *Cache) Snapshot(id uuid.UUID) (models.FeedSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot, ok := c.entries[id]
	return snapshot, ok
}

// All returns every cached snapshot in insertion order
func (c *Cache) All() []models.FeedSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshots := make([]models.FeedSnapshot, 0, len(c.order))
	for _, id := range c.order {
		snapshots = append(snapshots, c.entries[id])
	}
	return snapshots
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.entries = make(map[uuid.UUID]models.FeedSnapshot)
}

// Put inserts or overwrites the snapshot of snapshot.ChannelId
func (c *Cache) Put(snapshot models.FeedSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[snapshot.ChannelId]; !exists {
		c.order = append(c.order, snapshot.ChannelId)
	}
	c.entries[snapshot.ChannelId] = snapshot
}

// Replace swaps the whole content of the cache in one step. Readers see
// either the previous set or the new one, never a mix or an empty cache.
func (c *Cache) Replace(snapshots []models.FeedSnapshot) {
	order := make([]uuid.UUID, 0, len(snapshots))
	entries := make(map[uuid.UUID]models.FeedSnapshot, len(snapshots))
	for _, snapshot := range snapshots {
		if _, exists := entries[snapshot.ChannelId]; !exists {
			order = append(order, snapshot.ChannelId)
		}
		entries[snapshot.ChannelId] = snapshot
	}

	c.mu.Lock()
	c.order = order
	c.entries = entries
	c.mu.Unlock()
}
