package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs event pruning and counter sweeping on cron schedules.
type Scheduler struct {
	pruner  *Pruner
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a new retention scheduler.
func NewScheduler(pruner *Pruner) *Scheduler {
	return &Scheduler{
		pruner: pruner,
		cron:   cron.New(),
		logger: slog.Default().With("component", "usage.scheduler"),
	}
}

// Start schedules the configured jobs and starts the cron runner.
//
// Common cron expressions:
//   - "0 3 * * *"     - Daily at 3 AM
//   - "*/15 * * * *"  - Every 15 minutes
//   - "0 0 * * 0"     - Weekly on Sunday at midnight
//
// An empty schedule disables its job; with both empty Start does nothing.
// The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	cfg := s.pruner.config
	if cfg.PruneSchedule == "" && cfg.CounterSweepSchedule == "" {
		s.logger.Info("retention schedules not configured, skipping scheduler")
		return nil
	}

	// A stopped cron cannot be restarted with stale entries.
	s.cron = cron.New()

	if cfg.PruneSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.PruneSchedule, func() { s.runPruning(ctx) }); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
		}
	}
	if cfg.CounterSweepSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.CounterSweepSchedule, func() { s.runSweep(ctx) }); err != nil {
			return fmt.Errorf("invalid counter sweep schedule %q: %w", cfg.CounterSweepSchedule, err)
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"prune_schedule", cfg.PruneSchedule,
		"counter_sweep_schedule", cfg.CounterSweepSchedule,
		"retention_days", cfg.RetentionDays,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) runPruning(ctx context.Context) {
	s.logger.Info("starting scheduled usage event pruning")

	deleted, err := s.pruner.Prune(ctx)
	if err != nil {
		s.logger.Error("scheduled pruning failed", "error", err)
		return
	}
	s.logger.Info("scheduled pruning completed", "deleted_count", deleted)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if _, err := s.pruner.SweepCounters(ctx); err != nil {
		s.logger.Error("scheduled counter sweep failed", "error", err)
	}
}

// Stop stops the scheduler and waits for any running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the earliest next scheduled job time, or nil.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var next *time.Time
	for _, entry := range s.cron.Entries() {
		if next == nil || entry.Next.Before(*next) {
			t := entry.Next
			next = &t
		}
	}
	return next
}
