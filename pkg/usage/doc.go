// Package usage records every admission decision as an immutable usage event
// for audit logs, usage analytics and billing reconciliation.
//
// # Architecture
//
// The usage system consists of these layers:
//
//  1. Recorder - accepts events from the admission gateway without blocking it
//  2. Storage - persists events (memory, SQLite), de-duplicated by event ID
//  3. Query - validates filters and retrieves events
//  4. Retention - prunes old events on a cron schedule
//  5. Export - writes events as JSON or CSV for downstream aggregators
//
// # Events
//
// Each event captures:
//   - Tenant, API key and resource type
//   - Amount requested and admission time (UTC)
//   - Outcome (admitted/denied) and denial reason
//   - Overage and fail-open flags
//
// # Recording Flow
//
//	Admit → Decision
//	     ↓
//	Recorder.Record (non-blocking, bounded queue)
//	     ↓
//	Worker → Storage.Store (retried with backoff)
//	     ↓ (still failing)
//	Retry buffer → periodic flush
//
// Delivery is at-least-once; storage ignores duplicate IDs. Recorder failures
// are logged and never reach the admission caller.
package usage
