package feeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homedash_feed_refresh_cycles_total",
		Help: "Feed refresh cycles by result (ok, roster_error)",
	}, []string{"result"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "homedash_feed_refresh_duration_seconds",
		Help:    "Duration of a full feed refresh cycle",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms up to ~25s
	})

	fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homedash_feed_failures_total",
		Help: "Channels dropped from a refresh cycle by failing stage (fetch, parse)",
	}, []string{"stage"})

	cachedChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "homedash_feed_cached_channels",
		Help: "Number of channels present in the feed cache after the last cycle",
	})
)
