package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/turnstile/pkg/usage"
	"mercator-hq/turnstile/pkg/usage/export"
)

// CounterSweeper removes expired counters from a counter store.
type CounterSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to retain usage events.
	// 0 means keep events forever (no age pruning).
	RetentionDays int

	// PruneSchedule is a cron expression for event pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string

	// CounterSweepSchedule is a cron expression for sweeping expired
	// counters. Empty disables sweeping.
	CounterSweepSchedule string

	// ArchiveBeforeDelete exports events to JSON before deleting them.
	ArchiveBeforeDelete bool

	// ArchivePath is the directory to store archived events.
	ArchivePath string

	// MaxEvents is the maximum number of events to keep.
	// 0 means unlimited.
	MaxEvents int64

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays:        400,
		PruneSchedule:        "0 3 * * *",
		CounterSweepSchedule: "*/15 * * * *",
		ArchivePath:          "data/archives/",
	}
}

// Pruner enforces retention on usage events and reclaims expired counters.
type Pruner struct {
	storage   usage.Storage
	counters  CounterSweeper
	config    *Config
	now       func() time.Time
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a new retention pruner. counters may be nil, in which
// case counter sweeping is disabled.
func NewPruner(storage usage.Storage, counters CounterSweeper, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	pruner := &Pruner{
		storage:  storage,
		counters: counters,
		config:   config,
		now:      now,
		logger:   slog.Default().With("component", "usage.retention"),
	}
	pruner.scheduler = NewScheduler(pruner)

	return pruner
}

// Prune deletes usage events older than the retention period or exceeding
// the max event count.
//
// Pruning happens in two phases:
// 1. Age-based: delete events older than retention_days
// 2. Count-based: if total events > max_events, delete the oldest
//
// Returns the total number of events deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var totalDeleted int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return totalDeleted, fmt.Errorf("prune by age failed: %w", err)
		}
		totalDeleted += deleted
		p.logger.Info("pruned usage events by age",
			"deleted_count", deleted,
			"retention_days", p.config.RetentionDays,
		)
	}

	if p.config.MaxEvents > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return totalDeleted, fmt.Errorf("prune by count failed: %w", err)
		}
		totalDeleted += deleted
		p.logger.Info("pruned usage events by count",
			"deleted_count", deleted,
			"max_events", p.config.MaxEvents,
		)
	}

	if totalDeleted == 0 {
		p.logger.Debug("no usage events pruned",
			"retention_days", p.config.RetentionDays,
			"max_events", p.config.MaxEvents,
		)
	}

	return totalDeleted, nil
}

// Cutoff returns the instant before which events are pruned by age, or the
// zero time when age pruning is disabled.
func (p *Pruner) Cutoff() time.Time {
	if p.config.RetentionDays <= 0 {
		return time.Time{}
	}
	return p.now().UTC().AddDate(0, 0, -p.config.RetentionDays)
}

// pruneByAge deletes events older than the retention period.
func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.Cutoff()
	query := &usage.Query{EndTime: &cutoff}

	p.logger.Debug("pruning by age",
		"cutoff_time", cutoff,
		"retention_days", p.config.RetentionDays,
	)

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, query, "usage"); err != nil {
			return 0, usage.NewRetentionError(p.config.RetentionDays, err)
		}
	}

	deleted, err := p.storage.Delete(ctx, query)
	if err != nil {
		return 0, usage.NewRetentionError(p.config.RetentionDays, err)
	}
	return deleted, nil
}

// pruneByCount deletes the oldest events when the total exceeds MaxEvents.
// Events sharing the timestamp of the last one to delete are deleted too.
func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &usage.Query{})
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	if count <= p.config.MaxEvents {
		p.logger.Debug("event count within limit",
			"current", count,
			"max", p.config.MaxEvents,
		)
		return 0, nil
	}

	toDelete := int(count - p.config.MaxEvents)

	p.logger.Info("event count exceeds limit, pruning oldest",
		"current_count", count,
		"max_events", p.config.MaxEvents,
		"to_delete", toDelete,
	)

	oldest, err := p.storage.Query(ctx, &usage.Query{
		SortBy:    "timestamp",
		SortOrder: "asc",
		Limit:     toDelete,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query events: %w", err)
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	cutoff := oldest[len(oldest)-1].Timestamp
	query := &usage.Query{EndTime: &cutoff}

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, query, "usage-count"); err != nil {
			return 0, fmt.Errorf("archive failed: %w", err)
		}
	}

	deleted, err := p.storage.Delete(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}
	return deleted, nil
}

// archive exports the events matching query to a JSON file before deletion.
func (p *Pruner) archive(ctx context.Context, query *usage.Query, prefix string) error {
	total, err := p.storage.Count(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to count events for archiving: %w", err)
	}
	if total == 0 {
		p.logger.Debug("no usage events to archive")
		return nil
	}

	archiveQuery := *query
	archiveQuery.SortBy = "timestamp"
	archiveQuery.SortOrder = "asc"
	archiveQuery.Limit = int(total)
	events, err := p.storage.Query(ctx, &archiveQuery)
	if err != nil {
		return fmt.Errorf("failed to query events for archiving: %w", err)
	}

	if err := os.MkdirAll(p.config.ArchivePath, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	archiveFile := filepath.Join(p.config.ArchivePath,
		fmt.Sprintf("%s-%s.json", prefix, p.now().UTC().Format("2006-01-02-150405")))
	f, err := os.Create(archiveFile)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	if err := export.NewJSONExporter(true).Export(ctx, events, f); err != nil {
		return fmt.Errorf("failed to export events to archive: %w", err)
	}

	p.logger.Info("usage events archived",
		"archive_file", archiveFile,
		"event_count", len(events),
	)
	return nil
}

// SweepCounters removes expired counters from the counter store.
func (p *Pruner) SweepCounters(ctx context.Context) (int, error) {
	if p.counters == nil {
		return 0, nil
	}
	swept, err := p.counters.Sweep(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("sweep counters: %w", err)
	}
	if swept > 0 {
		p.logger.Info("swept expired counters", "count", swept)
	}
	return swept, nil
}

// Start starts the automatic pruning and sweeping scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the scheduler, waiting for running jobs.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled job.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
