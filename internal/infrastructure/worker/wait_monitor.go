package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/execution-gate/internal/dimension"
)

// WaitSource lists signal waits whose timeout lapsed
type WaitSource interface {
	ExpiredWaits(now time.Time) []dimension.WaitState
}

// WaitMonitor reports overdue signal waits once each. Overdue waits are never
// resolved automatically; an operator has to signal or fail the task.
type WaitMonitor struct {
	source   WaitSource
	now      func() time.Time
	logger   *zap.Logger
	loop     *tickerLoop
	onExpire func(dimension.WaitState)

	mu       sync.Mutex
	reported map[string]time.Time
}

// NewWaitMonitor creates a monitor checking every interval. onExpire may be nil.
func NewWaitMonitor(source WaitSource, interval time.Duration, onExpire func(dimension.WaitState), logger *zap.Logger) *WaitMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &WaitMonitor{
		source:   source,
		now:      time.Now,
		logger:   logger,
		onExpire: onExpire,
		reported: make(map[string]time.Time),
	}
	m.loop = &tickerLoop{name: m.Name(), interval: interval, tick: m.Check}
	return m
}

// Start starts the monitoring loop
func (m *WaitMonitor) Start(ctx context.Context) error {
	return m.loop.start(ctx)
}

// Stop stops the monitoring loop
func (m *WaitMonitor) Stop() error {
	m.loop.stop()
	return nil
}

// Name returns the worker name for identification
func (m *WaitMonitor) Name() string {
	return "WaitMonitor"
}

// Check reports waits that became overdue since the last check
func (m *WaitMonitor) Check(ctx context.Context) {
	m.check()
}

func (m *WaitMonitor) check() []dimension.WaitState {
	expired := m.source.ExpiredWaits(m.now())

	m.mu.Lock()
	var fresh []dimension.WaitState
	current := make(map[string]time.Time, len(expired))
	for _, w := range expired {
		current[w.TaskID] = w.RegisteredAt
		if at, seen := m.reported[w.TaskID]; seen && at.Equal(w.RegisteredAt) {
			continue
		}
		fresh = append(fresh, w)
	}
	// a re-registered or signalled wait may be reported again
	m.reported = current
	m.mu.Unlock()

	for _, w := range fresh {
		m.logger.Warn("Signal wait timed out",
			zap.String("task_id", w.TaskID),
			zap.String("token", w.Token),
			zap.Duration("timeout", w.Timeout),
			zap.Time("registered_at", w.RegisteredAt))
		if m.onExpire != nil {
			m.onExpire(w)
		}
	}
	return fresh
}
