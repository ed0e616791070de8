// Package liveness watches a running workflow for signs of a stalled job
// graph.
//
// The Monitor is the only goroutine the driver owns. It talks to the main
// flow through a single-fire channel and an optional callback, never through
// shared flags.
package liveness

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"progcactus/internal/trace"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultThreshold = 2 * time.Hour
)

// Status is one observation of the workflow engine's state.
type Status struct {
	PendingJobs int

	// LastActivity is the most recent modification seen in the job store or
	// run log. Zero means nothing has been observed yet.
	LastActivity time.Time
}

// Probe observes the workflow engine.
type Probe interface {
	Probe(ctx context.Context) (Status, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (Status, error)

func (f ProbeFunc) Probe(ctx context.Context) (Status, error) { return f(ctx) }

// Monitor polls a Probe and reports a suspected deadlock once: jobs are
// pending but nothing has moved for longer than Threshold.
type Monitor struct {
	Probe     Probe
	Interval  time.Duration
	Threshold time.Duration

	// OnDeadlock, when set, is invoked once on the first suspicion.
	OnDeadlock func()

	Logger *slog.Logger
	Trace  trace.Sink
	Now    func() time.Time

	// Subject names the watched job store in trace events.
	Subject string

	once      sync.Once
	fired     sync.Once
	suspected chan struct{}
}

// NewMonitor returns a monitor with default timings.
func NewMonitor(p Probe, onDeadlock func()) *Monitor {
	return &Monitor{
		Probe:      p,
		Interval:   DefaultInterval,
		Threshold:  DefaultThreshold,
		OnDeadlock: onDeadlock,
	}
}

func (m *Monitor) init() {
	m.once.Do(func() {
		m.suspected = make(chan struct{})
		if m.Interval <= 0 {
			m.Interval = DefaultInterval
		}
		if m.Threshold <= 0 {
			m.Threshold = DefaultThreshold
		}
		if m.Now == nil {
			m.Now = time.Now
		}
		if m.Logger == nil {
			m.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
	})
}

// Suspected is closed when the monitor first suspects a deadlock.
func (m *Monitor) Suspected() <-chan struct{} {
	m.init()
	return m.suspected
}

// Run polls until ctx is done or a deadlock is suspected.
func (m *Monitor) Run(ctx context.Context) {
	m.init()
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := m.Probe.Probe(ctx)
		if err != nil {
			m.Logger.Debug("liveness probe failed", "err", err)
			continue
		}
		if !m.stalled(st) {
			continue
		}

		idle := m.Now().Sub(st.LastActivity).Round(time.Second)
		m.Logger.Warn("workflow appears deadlocked", "pending_jobs", st.PendingJobs, "idle", idle.String())
		m.fired.Do(func() {
			close(m.suspected)
			trace.SafeRecord(m.Trace, trace.Event{Kind: trace.EventDeadlockSuspected, Subject: m.subject()})
			if m.OnDeadlock != nil {
				m.OnDeadlock()
			}
		})
		return
	}
}

// Start runs the monitor in the background. The returned stop function
// cancels it and waits for it to exit.
func (m *Monitor) Start(ctx context.Context) (stop func()) {
	m.init()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	trace.SafeRecord(m.Trace, trace.Event{Kind: trace.EventMonitorStarted, Subject: m.subject()})
	return func() {
		cancel()
		<-done
	}
}

func (m *Monitor) stalled(st Status) bool {
	if st.PendingJobs <= 0 || st.LastActivity.IsZero() {
		return false
	}
	return m.Now().Sub(st.LastActivity) > m.Threshold
}

func (m *Monitor) subject() string {
	if m.Subject == "" {
		return "jobStore"
	}
	return m.Subject
}
