package feeds_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"homedash/feeds"
	"homedash/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryChannels struct {
	mu       sync.Mutex
	channels []models.Channel
	listErr  error
	listings int
}

func (s *memoryChannels) ListChannels(ctx context.Context) ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]models.Channel(nil), s.channels...), nil
}

func (s *memoryChannels) listingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings
}

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// fetcherServing answers with a fixed document per url and fails unknown urls
func fetcherServing(documents map[string]string) fetchFunc {
	return func(ctx context.Context, url string) ([]byte, error) {
		doc, ok := documents[url]
		if !ok {
			return nil, &feeds.FetchError{URL: url, Err: errors.New("connection refused")}
		}
		return []byte(doc), nil
	}
}

func channel(name, url string) models.Channel {
	return models.Channel{Id: uuid.New(), Name: name, Url: url}
}

func newTestRefresher(t *testing.T, store feeds.ChannelStore, fetcher feeds.Fetcher, cache *feeds.Cache, config feeds.RefresherConfig) (*feeds.Refresher, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	config.Logger = logger
	if config.Interval == 0 {
		config.Interval = time.Second
	}
	return feeds.NewRefresher(store, fetcher, feeds.GofeedParser{}, cache, config), hook
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		raw     string
		want    feeds.Strategy
		wantErr bool
	}{
		{raw: "", want: feeds.StrategySwap},
		{raw: "swap", want: feeds.StrategySwap},
		{raw: " Clear ", want: feeds.StrategyClear},
		{raw: "merge", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := feeds.ParseStrategy(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefreshCachesEveryHealthyChannel(t *testing.T) {
	healthy := channel("homelab", "https://homelab.example/rss")
	broken := channel("broken", "https://broken.example/rss")
	store := &memoryChannels{channels: []models.Channel{healthy, broken}}
	cache := feeds.NewCache()
	refresher, hook := newTestRefresher(t, store, fetcherServing(map[string]string{
		healthy.Url: sampleRSS,
	}), cache, feeds.RefresherConfig{})

	require.NoError(t, refresher.Refresh(context.Background()))

	all := cache.All()
	require.Len(t, all, 1)
	assert.Equal(t, healthy.Id, all[0].ChannelId)
	assert.Equal(t, "Homelab Weekly", all[0].Name)
	require.Len(t, all[0].Items, 3)
	assert.Equal(t, "Replacing the UPS battery", *all[0].Items[0].Title)
	assert.Equal(t, "ZFS scrub results", *all[0].Items[1].Title)

	_, ok := cache.Snapshot(broken.Id)
	assert.False(t, ok)

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Failed to refresh channel" && entry.Data["url"] == broken.Url {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestRefreshDropsSnapshotOfChannelThatStartsFailing(t *testing.T) {
	ch := channel("homelab", "https://homelab.example/rss")
	store := &memoryChannels{channels: []models.Channel{ch}}
	cache := feeds.NewCache()
	documents := map[string]string{ch.Url: sampleRSS}
	refresher, _ := newTestRefresher(t, store, fetcherServing(documents), cache, feeds.RefresherConfig{})

	require.NoError(t, refresher.Refresh(context.Background()))
	_, ok := cache.Snapshot(ch.Id)
	require.True(t, ok)

	delete(documents, ch.Url)
	require.NoError(t, refresher.Refresh(context.Background()))

	_, ok = cache.Snapshot(ch.Id)
	assert.False(t, ok)
}

func TestRefreshRemovedChannelDisappears(t *testing.T) {
	kept := channel("homelab", "https://homelab.example/rss")
	removed := channel("router", "https://router.example/atom")
	store := &memoryChannels{channels: []models.Channel{kept, removed}}
	cache := feeds.NewCache()
	refresher, _ := newTestRefresher(t, store, fetcherServing(map[string]string{
		kept.Url:    sampleRSS,
		removed.Url: sampleAtom,
	}), cache, feeds.RefresherConfig{})

	require.NoError(t, refresher.Refresh(context.Background()))
	assert.Equal(t, 2, cache.Len())

	store.mu.Lock()
	store.channels = []models.Channel{kept}
	store.mu.Unlock()
	require.NoError(t, refresher.Refresh(context.Background()))

	_, ok := cache.Snapshot(removed.Id)
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestRefreshRosterFailureFetchesNothing(t *testing.T) {
	store := &memoryChannels{listErr: errors.New("database is locked")}
	fetched := false
	cache := feeds.NewCache()
	previous := models.FeedSnapshot{ChannelId: uuid.New(), Name: "previous"}
	cache.Put(previous)
	refresher, _ := newTestRefresher(t, store, fetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		fetched = true
		return nil, nil
	}), cache, feeds.RefresherConfig{})

	err := refresher.Refresh(context.Background())

	assert.ErrorContains(t, err, "database is locked")
	assert.False(t, fetched)
	_, ok := cache.Snapshot(previous.ChannelId)
	assert.True(t, ok, "swap strategy keeps the last published set")
}

func TestRefreshFetchTimeoutLeavesChannelAbsent(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	ch := channel("slow", slow.URL)
	store := &memoryChannels{channels: []models.Channel{ch}}
	cache := feeds.NewCache()
	refresher, _ := newTestRefresher(t, store, feeds.NewHTTPFetcher(50*time.Millisecond), cache, feeds.RefresherConfig{})

	require.NoError(t, refresher.Refresh(context.Background()))

	_, ok := cache.Snapshot(ch.Id)
	assert.False(t, ok)
	assert.Equal(t, []models.Channel{ch}, store.channels)
}

// blockingFetcher parks every fetch until release is closed
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	doc     string
}

func (f *blockingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.once.Do(func() { close(f.started) })
	select {
	case <-f.release:
		return []byte(f.doc), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRefreshStrategies(t *testing.T) {
	tests := []struct {
		name          string
		strategy      feeds.Strategy
		emptyMidCycle bool
	}{
		{name: "swap keeps previous set visible", strategy: feeds.StrategySwap, emptyMidCycle: false},
		{name: "clear empties cache before refetching", strategy: feeds.StrategyClear, emptyMidCycle: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := channel("homelab", "https://homelab.example/rss")
			store := &memoryChannels{channels: []models.Channel{ch}}
			cache := feeds.NewCache()
			cache.Put(models.FeedSnapshot{ChannelId: ch.Id, Name: "previous"})
			fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{}), doc: sampleRSS}
			refresher, _ := newTestRefresher(t, store, fetcher, cache, feeds.RefresherConfig{
				Interval: 5 * time.Second,
				Strategy: tt.strategy,
			})

			done := make(chan error, 1)
			go func() { done <- refresher.Refresh(context.Background()) }()

			select {
			case <-fetcher.started:
			case <-time.After(2 * time.Second):
				t.Fatal("fetch never started")
			}

			if tt.emptyMidCycle {
				assert.Empty(t, cache.All())
			} else {
				mid, ok := cache.Snapshot(ch.Id)
				require.True(t, ok)
				assert.Equal(t, "previous", mid.Name)
			}

			close(fetcher.release)
			require.NoError(t, <-done)

			after, ok := cache.Snapshot(ch.Id)
			require.True(t, ok)
			assert.Equal(t, "Homelab Weekly", after.Name)
		})
	}
}

func TestRefreshLimitsConcurrentFetches(t *testing.T) {
	var channels []models.Channel
	documents := map[string]string{}
	for i := 0; i < 8; i++ {
		ch := channel("feed", "https://feeds.example/"+uuid.NewString())
		channels = append(channels, ch)
		documents[ch.Url] = sampleRSS
	}
	store := &memoryChannels{channels: channels}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	serve := fetcherServing(documents)
	fetcher := fetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return serve(ctx, url)
	})

	cache := feeds.NewCache()
	refresher, _ := newTestRefresher(t, store, fetcher, cache, feeds.RefresherConfig{Concurrency: 2})

	require.NoError(t, refresher.Refresh(context.Background()))

	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 8, cache.Len())
}

func TestRefreshNotifiesListener(t *testing.T) {
	healthy := channel("homelab", "https://homelab.example/rss")
	broken := channel("broken", "https://broken.example/rss")
	store := &memoryChannels{channels: []models.Channel{healthy, broken}}

	var events []models.FeedRefreshEvent
	refresher, _ := newTestRefresher(t, store, fetcherServing(map[string]string{healthy.Url: sampleRSS}), feeds.NewCache(), feeds.RefresherConfig{
		OnRefresh: func(e models.FeedRefreshEvent) { events = append(events, e) },
	})

	require.NoError(t, refresher.Refresh(context.Background()))

	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Channels)
	assert.Equal(t, 1, events[0].Failed)
}

func TestRunGivesUpAfterConsecutiveRosterFailures(t *testing.T) {
	store := &memoryChannels{listErr: errors.New("no such table: channels")}
	refresher, _ := newTestRefresher(t, store, fetcherServing(nil), feeds.NewCache(), feeds.RefresherConfig{
		Interval:               10 * time.Millisecond,
		MaxConsecutiveFailures: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := refresher.Run(ctx)

	assert.ErrorContains(t, err, "no such table")
	assert.Equal(t, 3, store.listingCount())
}

func TestRunStopsWhenCancelled(t *testing.T) {
	store := &memoryChannels{}
	refresher, _ := newTestRefresher(t, store, fetcherServing(nil), feeds.NewCache(), feeds.RefresherConfig{
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- refresher.Run(ctx) }()

	assert.Eventually(t, func() bool { return store.listingCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	logger, _ := test.NewNullLogger()
	refresher := feeds.NewRefresher(&memoryChannels{}, fetcherServing(nil), feeds.GofeedParser{}, feeds.NewCache(), feeds.RefresherConfig{
		Logger: logger,
	})

	assert.Error(t, refresher.Run(context.Background()))
}
