// Package feeds keeps the in-memory feed cache fresh by polling every
// subscribed channel on a fixed interval.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"homedash/models"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ChannelStore is the part of the relational store the refresher depends on
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
}

// Strategy selects how a refresh cycle publishes its results
type Strategy string

const (
	// StrategySwap builds the new snapshot set aside and swaps it in at the
	// end of the cycle
	StrategySwap Strategy = "swap"
	// StrategyClear empties the cache at the start of the cycle and inserts
	// snapshots as they arrive. Readers can see a partially empty cache.
	StrategyClear Strategy = "clear"
)

func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StrategySwap:
		return StrategySwap, nil
	case StrategyClear:
		return StrategyClear, nil
	}
	return "", fmt.Errorf("unknown cache strategy %q (want swap or clear)", raw)
}

const (
	DefaultFetchConcurrency       = 4
	DefaultMaxConsecutiveFailures = 5
)

// RefresherConfig holds the tunables of the feed refresher
type RefresherConfig struct {
	// Interval between cycles, also the deadline of a single cycle
	Interval    time.Duration
	Concurrency int
	Strategy    Strategy
	// MaxConsecutiveFailures is the number of roster read failures in a row
	// after which Run gives up and returns the error. Zero never gives up.
	MaxConsecutiveFailures int
	// OnRefresh is called at the end of every completed cycle
	OnRefresh func(models.FeedRefreshEvent)
	Logger    log.FieldLogger
}

// Refresher polls every channel and replaces the cache with the results
type Refresher struct {
	store   ChannelStore
	fetcher Fetcher
	parser  Parser
	cache   *Cache
	config  RefresherConfig
	logger  log.FieldLogger
}

func NewRefresher(store ChannelStore, fetcher Fetcher, parser Parser, cache *Cache, config RefresherConfig) *Refresher {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultFetchConcurrency
	}
	if config.Strategy == "" {
		config.Strategy = StrategySwap
	}
	logger := config.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Refresher{
		store:   store,
		fetcher: fetcher,
		parser:  parser,
		cache:   cache,
		config:  config,
		logger:  logger.WithField("component", "feeds"),
	}
}

// Run refreshes immediately and then once per interval until ctx is
// cancelled. Cycles never overlap.
func (r *Refresher) Run(ctx context.Context) error {
	if r.config.Interval <= 0 {
		return fmt.Errorf("feed refresh interval must be positive, got %s", r.config.Interval)
	}

	r.logger.WithFields(log.Fields{
		"interval":    r.config.Interval,
		"concurrency": r.config.Concurrency,
		"strategy":    r.config.Strategy,
	}).Info("Started feed refresher")

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		err := r.Refresh(ctx)
		switch {
		case ctx.Err() != nil:
			r.logger.Info("Feed refresher stopped")
			return nil
		case err != nil:
			failures++
			r.logger.WithFields(log.Fields{
				"error":                err,
				"consecutive_failures": failures,
			}).Error("Feed refresh aborted")
			if r.config.MaxConsecutiveFailures > 0 && failures >= r.config.MaxConsecutiveFailures {
				return fmt.Errorf("feed refresher gave up after %d consecutive failures: %w", failures, err)
			}
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Feed refresher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh runs one cycle. A roster read failure aborts the cycle before any
// fetch and is returned. A channel whose fetch or parse fails is logged and
// left out of the cache until a later cycle succeeds; its previous snapshot
// is not kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := time.Now()

	cycleCtx := ctx
	if r.config.Interval > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, r.config.Interval)
		defer cancel()
	}

	if r.config.Strategy == StrategyClear {
		r.cache.Clear()
	}

	channels, err := r.store.ListChannels(cycleCtx)
	if err != nil {
		refreshCycles.WithLabelValues("roster_error").Inc()
		return fmt.Errorf("read channel roster: %w", err)
	}

	results := make([]*models.FeedSnapshot, len(channels))
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)
	for i, channel := range channels {
		g.Go(func() error {
			snapshot, err := r.load(cycleCtx, channel)
			if err != nil {
				failed.Add(1)
				r.logger.WithFields(log.Fields{
					"id":    channel.Id,
					"name":  channel.Name,
					"url":   channel.Url,
					"error": err,
				}).Warn("Failed to refresh channel")
				return nil
			}
			if r.config.Strategy == StrategyClear {
				r.cache.Put(snapshot)
			} else {
				results[i] = &snapshot
			}
			return nil
		})
	}
	g.Wait()

	if r.config.Strategy == StrategySwap {
		r.cache.Replace(lo.FilterMap(results, func(s *models.FeedSnapshot, _ int) (models.FeedSnapshot, bool) {
			if s == nil {
				return models.FeedSnapshot{}, false
			}
			return *s, true
		}))
	}

	elapsed := time.Since(start)
	refreshDuration.Observe(elapsed.Seconds())
	refreshCycles.WithLabelValues("ok").Inc()
	cachedChannels.Set(float64(r.cache.Len()))

	if errors.Is(cycleCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		r.logger.WithFields(log.Fields{
			"channels": len(channels),
			"interval": r.config.Interval,
		}).Warn("Feed refresh ran past its interval, unfinished fetches were abandoned")
	}

	r.logger.WithFields(log.Fields{
		"channels": len(channels),
		"failed":   failed.Load(),
		"duration": elapsed,
	}).Info("Feed refresh finished")

	if r.config.OnRefresh != nil {
		r.config.OnRefresh(models.FeedRefreshEvent{
			Channels: len(channels),
			Failed:   int(failed.Load()),
			At:       time.Now().UTC(),
		})
	}
	return nil
}

func (r *Refresher) load(ctx context.Context, channel models.Channel) (models.FeedSnapshot, error) {
	raw, err := r.fetcher.Fetch(ctx, channel.Url)
	if err != nil {
		fetchFailures.WithLabelValues("fetch").Inc()
		return models.FeedSnapshot{}, err
	}

	snapshot, err := r.parser.Parse(raw)
	if err != nil {
		fetchFailures.WithLabelValues("parse").Inc()
		return models.FeedSnapshot{}, err
	}

	snapshot.ChannelId = channel.Id
	if snapshot.Name == "" {
		snapshot.Name = channel.Name
	}
	if snapshot.Items == nil {
		snapshot.Items = []models.FeedItem{}
	}
	return snapshot, nil
}
