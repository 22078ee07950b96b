// Package storage provides storage backends for usage events.
//
// # Storage Backends
//
//   - SQLite: embedded database (github.com/mattn/go-sqlite3) for single-node deployments
//   - Memory: in-memory map for tests and demos
//
// Both backends de-duplicate on the event ID: storing an event that already
// exists is a no-op. The recorder relies on this to retry writes without
// double counting.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
//	    Path:    "data/usage.db",
//	    WALMode: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	events, err := store.Query(ctx, &usage.Query{
//	    TenantID:  "org-1",
//	    StartTime: &monthStart,
//	    Outcome:   usage.OutcomeDenied,
//	    Limit:     100,
//	})
//
// Results are sorted by timestamp, newest first, unless SortBy and SortOrder
// say otherwise. Unknown sort fields fall back to timestamp.
//
// # Schema
//
// The SQLite backend creates the usage_events table on first use and records
// the schema version in the schema_version table.
package storage
