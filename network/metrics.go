package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homedash_liveness_cycles_total",
		Help: "Liveness sweeps by result (ok, roster_error)",
	}, []string{"result"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "homedash_liveness_cycle_duration_seconds",
		Help:    "Duration of a full liveness sweep",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms up to ~20s
	})

	probeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homedash_liveness_probes_total",
		Help: "Probe verdicts by outcome",
	}, []string{"outcome"})

	statusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "homedash_liveness_transitions_total",
		Help: "Persisted device status transitions by new status",
	}, []string{"status"})

	writeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "homedash_liveness_write_failures_total",
		Help: "Status write-backs that failed and were skipped",
	})
)
