// Package scheduler runs the one background job Beehive needs: a periodic
// sweep of expired share tokens (spec §4.8 — a Push whose until has passed
// is no longer redeemable and should not accumulate forever). It wraps
// gocron exactly as the teacher's backup-dispatch scheduler did, reduced to
// the single recurring tick this domain calls for.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/repository"
)

// defaultSweepInterval is how often expired push tokens are purged. Share
// tokens are short-lived invites (spec §4.8), so once a minute keeps the
// table small without meaningfully delaying cleanup.
const defaultSweepInterval = time.Minute

// Scheduler wraps gocron and runs the push-expiry sweep on a fixed interval.
// The zero value is not usable — create instances with New.
type Scheduler struct {
	cron   gocron.Scheduler
	pushes repository.PushRepository
	logger *zap.Logger
}

// New creates a Scheduler. Call Start to begin the sweep.
func New(pushes repository.PushRepository, logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{cron: s, pushes: pushes, logger: logger.Named("scheduler")}, nil
}

// Start registers the sweep job and starts the underlying gocron scheduler.
func (s *Scheduler) Start() error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(defaultSweepInterval),
		gocron.NewTask(s.sweep),
		gocron.WithTags("push-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule push-expiry sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Duration("sweep_interval", defaultSweepInterval))
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for
// any in-flight sweep to finish.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// sweep is the gocron task body; SweepOnce does the actual work so tests can
// call it without waiting for the next tick.
func (s *Scheduler) sweep() {
	s.SweepOnce(context.Background())
}

// SweepOnce runs the expiry sweep immediately, outside the cron schedule.
func (s *Scheduler) SweepOnce(ctx context.Context) (int64, error) {
	n, err := s.pushes.DeleteExpired(ctx, time.Now().Unix())
	if err != nil {
		s.logger.Error("push-expiry sweep failed", zap.Error(err))
		return 0, fmt.Errorf("scheduler: sweeping expired pushes: %w", err)
	}
	if n > 0 {
		s.logger.Info("swept expired push tokens", zap.Int64("count", n))
		metrics.PushTokensSwept.Add(float64(n))
	}
	return n, nil
}
