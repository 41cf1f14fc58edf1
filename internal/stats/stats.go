// Package stats implements the statistics & watchdog worker (C9, §4.9): at
// 1 Hz it samples process CPU/RAM usage, applies a two-strike watchdog with
// a 10 s re-check window, and periodically publishes a "process" broadcast.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/pilightgo/pilightd/internal/broker"
	"github.com/pilightgo/pilightd/internal/logging"
	"github.com/pilightgo/pilightd/internal/metrics"
)

const (
	defaultInterval           = 1 * time.Second
	defaultRecheckDelay       = 10 * time.Second
	watchdogWarnThreshold     = 60.0
	watchdogAbortThreshold    = 90.0
	publishEveryNTicks        = 3
)

// Sampler reports process CPU% and RAM% usage; ProcessSampler wraps
// gopsutil, tests substitute a scripted fake.
type Sampler interface {
	Sample() (cpuPct, ramPct float64, err error)
}

type processSampler struct{ p *process.Process }

// NewProcessSampler builds a Sampler over this process's own PID.
func NewProcessSampler() (Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &processSampler{p: p}, nil
}

func (s *processSampler) Sample() (float64, float64, error) {
	cpu, err := s.p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	ram, err := s.p.MemoryPercent()
	if err != nil {
		return 0, 0, err
	}
	return cpu, float64(ram), nil
}

// ShutdownFunc is invoked once the watchdog trips; immediate distinguishes
// an abort (sample > 90 on the re-check) from a controlled shutdown.
type ShutdownFunc func(immediate bool)

// Worker is the single stats/watchdog goroutine.
type Worker struct {
	b              *broker.Broker
	sampler        Sampler
	watchdogEnable bool
	onShutdown     ShutdownFunc
	logger         *slog.Logger

	interval     time.Duration
	recheckDelay time.Duration
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option     { return func(w *Worker) { w.interval = d } }
func WithRecheckDelay(d time.Duration) Option { return func(w *Worker) { w.recheckDelay = d } }

// New constructs a stats worker; onShutdown may be nil if watchdogEnable is
// false.
func New(b *broker.Broker, sampler Sampler, watchdogEnable bool, onShutdown ShutdownFunc, opts ...Option) *Worker {
	w := &Worker{
		b: b, sampler: sampler, watchdogEnable: watchdogEnable, onShutdown: onShutdown,
		logger: logging.L(), interval: defaultInterval, recheckDelay: defaultRecheckDelay,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type processReport struct {
	CPU float64 `json:"cpu"`
	RAM float64 `json:"ram"`
}

// Run samples at w.interval until ctx is cancelled, or until the watchdog
// trips (controlled shutdown or immediate abort).
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	tick := 0
	var pendingSince time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cpu, ram, err := w.sampler.Sample()
		if err != nil {
			w.logger.Warn("stats_sample_failed", "error", err)
			continue
		}
		tick++

		if w.watchdogEnable {
			breach := cpu > watchdogWarnThreshold || ram > watchdogWarnThreshold
			switch {
			case breach && pendingSince.IsZero():
				pendingSince = time.Now()
				w.logger.Warn("watchdog_first_strike", "cpu", cpu, "ram", ram)
				continue
			case breach && time.Since(pendingSince) >= w.recheckDelay:
				immediate := cpu > watchdogAbortThreshold || ram > watchdogAbortThreshold
				metrics.WatchdogTrips.Inc()
				w.logger.Warn("watchdog_trip", "cpu", cpu, "ram", ram, "immediate", immediate)
				if w.onShutdown != nil {
					w.onShutdown(immediate)
				}
				return
			case !breach:
				pendingSince = time.Time{}
			}
		}

		if tick%publishEveryNTicks == 0 {
			t := broker.CoreTypeProcess
			values, err := json.Marshal(processReport{CPU: cpu, RAM: ram})
			if err != nil {
				continue
			}
			msg := broker.Message{Origin: broker.OriginCore, Type: &t, Values: values, UUID: w.b.NodeUUID}
			if !w.b.BroadcastQ.Enqueue(msg) {
				metrics.BroadcastQDropped.Inc()
			}
		}
	}
}
