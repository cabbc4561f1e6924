package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"homedash/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DeviceStore is the part of the relational store the monitor depends on
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	SetDeviceStatus(ctx context.Context, id uuid.UUID, status models.Status) error
}

const (
	DefaultProbeConcurrency       = 16
	DefaultMaxConsecutiveFailures = 5
)

// MonitorConfig holds the tunables of the liveness monitor
type MonitorConfig struct {
	// Interval between sweeps, also the deadline of a single sweep
	Interval time.Duration
	// Concurrency bounds the number of probes in flight
	Concurrency int
	// MaxConsecutiveFailures is the number of roster read failures in a row
	// after which Run gives up and returns the error. Zero never gives up.
	MaxConsecutiveFailures int
	// OnTransition is called after every persisted status change
	OnTransition func(models.StatusChangeEvent)
	Logger       log.FieldLogger
}

// Monitor periodically probes every registered device and persists status
// changes. Writes are edge-triggered: a device whose probe verdict matches
// its stored status is left alone.
type Monitor struct {
	store  DeviceStore
	prober Prober
	config MonitorConfig
	logger log.FieldLogger

	// serializes status write-backs, probes run unlocked
	writeMu sync.Mutex
}

func NewMonitor(store DeviceStore, prober Prober, config MonitorConfig) *Monitor {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultProbeConcurrency
	}
	logger := config.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Monitor{
		store:  store,
		prober: prober,
		config: config,
		logger: logger.WithField("component", "liveness"),
	}
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
// A tick that fires while a sweep is still running is dropped, so sweeps
// never overlap.
func (m *Monitor) Run(ctx context.Context) error {
	if m.config.Interval <= 0 {
		return fmt.Errorf("network scan interval must be positive, got %s", m.config.Interval)
	}

	m.logger.WithFields(log.Fields{
		"interval":    m.config.Interval,
		"concurrency": m.config.Concurrency,
	}).Info("Started network status monitor")

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		err := m.Sweep(ctx)
		switch {
		case ctx.Err() != nil:
			m.logger.Info("Network status monitor stopped")
			return nil
		case err != nil:
			failures++
			m.logger.WithFields(log.Fields{
				"error":                err,
				"consecutive_failures": failures,
			}).Error("Liveness sweep aborted")
			if m.config.MaxConsecutiveFailures > 0 && failures >= m.config.MaxConsecutiveFailures {
				return fmt.Errorf("liveness monitor gave up after %d consecutive failures: %w", failures, err)
			}
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			m.logger.Info("Network status monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one cycle: read the roster, probe every device, write back
// transitions. A roster read failure aborts the cycle before any probe is
// sent and is returned. Failures of individual devices are logged and
// skipped.
func (m *Monitor) Sweep(ctx context.Context) error {
	start := time.Now()

	cycleCtx := ctx
	if m.config.Interval > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, m.config.Interval)
		defer cancel()
	}

	devices, err := m.store.ListDevices(cycleCtx)
	if err != nil {
		sweepCycles.WithLabelValues("roster_error").Inc()
		return fmt.Errorf("read device roster: %w", err)
	}

	var denied atomic.Int64
	var g errgroup.Group
	g.SetLimit(m.config.Concurrency)
	for _, device := range devices {
		g.Go(func() error {
			if m.check(cycleCtx, ctx, device) {
				denied.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(start)
	sweepDuration.Observe(elapsed.Seconds())

	// A sweep where no probe could even open a socket learned nothing
	if len(devices) > 0 && denied.Load() == int64(len(devices)) {
		sweepCycles.WithLabelValues("socket_denied").Inc()
		return fmt.Errorf("all %d probes were denied an icmp socket: %w", len(devices), ErrSocketDenied)
	}
	sweepCycles.WithLabelValues("ok").Inc()

	if errors.Is(cycleCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		m.logger.WithFields(log.Fields{
			"devices":  len(devices),
			"interval": m.config.Interval,
		}).Warn("Liveness sweep ran past its interval, unfinished probes were abandoned")
	}

	m.logger.WithFields(log.Fields{
		"devices":  len(devices),
		"duration": elapsed,
	}).Debug("Liveness sweep finished")
	return nil
}

// check probes one device under the cycle deadline and persists a transition
// under the caller's context, so a verdict reached in time is not lost to
// the deadline. It reports whether the probe was denied a socket.
func (m *Monitor) check(probeCtx, writeCtx context.Context, device models.Device) bool {
	if probeCtx.Err() != nil {
		return false
	}

	fields := log.Fields{
		"id":   device.Id,
		"name": device.Name,
		"ip":   device.Ip,
	}

	outcome, err := m.prober.Probe(probeCtx, device.Ip)
	probeOutcomes.WithLabelValues(outcome.String()).Inc()

	var next models.Status
	switch outcome {
	case Reachable:
		next = models.Online
	case Unreachable:
		next = models.Offline
	default:
		m.logger.WithFields(fields).WithField("error", err).Warn("Probe failed")
		return errors.Is(err, ErrSocketDenied)
	}

	// A probe cut short by the cycle deadline has no verdict
	if outcome == Unreachable && probeCtx.Err() != nil {
		m.logger.WithFields(fields).Debug("Probe abandoned at sweep deadline")
		return false
	}

	if next == device.Status {
		return false
	}

	m.writeMu.Lock()
	err = m.store.SetDeviceStatus(writeCtx, device.Id, next)
	m.writeMu.Unlock()
	if err != nil {
		writeFailures.Inc()
		m.logger.WithFields(fields).WithField("error", err).Warn("Failed to persist device status")
		return false
	}

	status := models.StatusString(next)
	statusTransitions.WithLabelValues(status).Inc()
	m.logger.WithFields(fields).Infof("Device is now %s", status)

	if m.config.OnTransition != nil {
		m.config.OnTransition(models.StatusChangeEvent{
			DeviceId: device.Id,
			Name:     device.Name,
			Ip:       device.Ip,
			Status:   next,
			At:       time.Now().UTC(),
		})
	}
	return false
}
