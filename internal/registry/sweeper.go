package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 30 * time.Second

// Sweeper runs Registry.Sweep on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	registry *Registry
	logger   *slog.Logger
}

// NewSweeper schedules sweeps using a standard cron spec or descriptor
// such as "@every 5m".
func NewSweeper(registry *Registry, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:     cron.New(),
		registry: registry,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("schedule pointer sweep %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running scheduled sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("pointer sweeper started", "ttl", s.registry.idleTTL)
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("pointer sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("pointer sweeper stop timed out", "error", ctx.Err())
	}
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := s.registry.Sweep(ctx)
	if err != nil {
		s.logger.Error("pointer sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pointer sweep evicted idle pointers", "count", n)
	}
}
