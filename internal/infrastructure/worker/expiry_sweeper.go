package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper expires approval requests whose window has elapsed
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) []string
}

// ExpirySweeper periodically drives the approval gate's expiry heap
type ExpirySweeper struct {
	gate   Sweeper
	now    func() time.Time
	logger *zap.Logger
	loop   *tickerLoop
}

// NewExpirySweeper creates a sweeper running every interval
func NewExpirySweeper(gate Sweeper, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExpirySweeper{
		gate:   gate,
		now:    time.Now,
		logger: logger,
	}
	s.loop = &tickerLoop{name: s.Name(), interval: interval, tick: s.Sweep}
	return s
}

// Start starts the sweeping loop
func (s *ExpirySweeper) Start(ctx context.Context) error {
	if err := s.loop.start(ctx); err != nil {
		return err
	}
	s.logger.Info("ExpirySweeper started", zap.Duration("interval", s.loop.interval))
	return nil
}

// Stop stops the sweeping loop
func (s *ExpirySweeper) Stop() error {
	s.loop.stop()
	s.logger.Info("ExpirySweeper stopped")
	return nil
}

// Name returns the worker name for identification
func (s *ExpirySweeper) Name() string {
	return "ExpirySweeper"
}

// Sweep runs one expiry pass
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	expired := s.gate.SweepExpired(ctx, s.now())
	if len(expired) > 0 {
		s.logger.Info("Approval requests expired",
			zap.Int("count", len(expired)),
			zap.Strings("request_ids", expired))
	}
}
