// Package recorder writes usage events to storage asynchronously.
//
// # Recording Flow
//
// The admission gateway calls Record for every decision. Record validates the
// event, places it on a bounded queue and returns; it never reports an error
// to the caller. A single worker drains the queue:
//
//  1. Write the event with exponential backoff (github.com/cenkalti/backoff/v5)
//  2. If every retry fails, move the event to a bounded retry buffer
//  3. Every FlushInterval, and on Close, write the retry buffer again
//
// Storage de-duplicates on the event ID, so retried writes are idempotent.
//
// # Overflow
//
// When the queue is full the overflow policy applies:
//
//   - drop_oldest (default): evict the oldest queued event; Record never blocks
//   - block: wait up to WriteTimeout for space, then drop the new event
//
// Drops are counted and logged at most once per second.
//
// # Basic Usage
//
//	rec := recorder.NewRecorder(store, &recorder.Config{
//	    QueueSize:    1000,
//	    Overflow:     recorder.OverflowDropOldest,
//	    WriteTimeout: 5 * time.Second,
//	    MaxRetries:   3,
//	}, recorder.NewMetrics(registry))
//	defer rec.Close()
//
//	rec.Record(usage.NewEvent(tenantID, keyID, resource, 1, now, decision))
//
// # Shutdown
//
// Close stops accepting events, drains the queue and flushes the retry
// buffer. Events still unwritten after that are counted as failed in Stats.
package recorder
