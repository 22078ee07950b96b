// Package storage provides counter store backends for usage counters.
//
// # Overview
//
// A counter is identified by (tenant, subject, window kind, window start) and
// holds a single int64. The Store interface offers an atomic increment that
// returns the post-increment value, a side-effect-free Peek, and expiry:
//
//   - Memory: in-process map (default, no persistence, single instance)
//   - SQLite: file-based persistence shared by processes on one host
//   - Redis: shared counters for multi-instance deployments
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	defer store.Close()
//
//	key := storage.QuotaKey("org-1", limits.ResourceAPICall, time.Now())
//	n, err := store.IncrementAndGet(ctx, key, 1)
//	if n == 1 {
//	    _ = store.Expire(ctx, key, storage.DefaultTTLs().For(limits.WindowMonth))
//	}
//
// # Failures
//
// Every backend returns *limits.StoreError. Timeouts, transport failures and
// closed stores wrap limits.ErrStoreUnavailable so callers can apply their
// fail-open or fail-closed policy with limits.IsStoreUnavailable.
//
// # Thread Safety
//
// All backends are safe for concurrent use.
package storage
