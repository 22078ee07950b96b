// Package retention prunes old usage events and sweeps expired counters.
//
// # Retention Policy
//
//   - Events older than RetentionDays are deleted (optionally archived to JSON first)
//   - When MaxEvents is set, the oldest events beyond it are deleted
//   - Counters past their expiry are removed from stores that need an
//     explicit sweep (memory, SQLite); Redis expires keys itself
//
// # Basic Usage
//
//	pruner := retention.NewPruner(events, counters, &retention.Config{
//	    RetentionDays:        400,
//	    PruneSchedule:        "0 3 * * *",
//	    CounterSweepSchedule: "*/15 * * * *",
//	})
//	if err := pruner.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer pruner.Stop()
//
// Schedules use standard five-field cron syntax (github.com/robfig/cron/v3).
package retention
