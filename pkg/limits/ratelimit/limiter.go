package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/storage"
)

// rollbackTimeout bounds the compensation of a partially failed commit.
const rollbackTimeout = time.Second

// Limiter enforces per-API-key request ceilings over fixed minute, hour and
// day windows.
//
// The Limiter is stateless; all counts live in the counter store. A request
// counts as one against every window with a finite ceiling. Check and Commit
// are separate so a request denied later in the admission pipeline never
// consumes rate allowance.
//
// Check-then-increment is not atomic as a whole: N requests racing the same
// window may all observe count < ceiling, so at most N-1 admissions beyond the
// ceiling can occur. Fixed windows also allow up to 2x the ceiling across a
// window boundary.
type Limiter struct {
	store   storage.Store
	ttls    storage.TTLs
	now     func() time.Time
	metrics *limits.Metrics
	logger  *slog.Logger
}

// Config configures a Limiter.
type Config struct {
	// Store holds the counters. Required.
	Store storage.Store

	// TTLs are the counter TTLs per window. Default: storage.DefaultTTLs().
	TTLs storage.TTLs

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time

	// Metrics records rate limit denials. Optional.
	Metrics *limits.Metrics
}

// NewLimiter creates a new rate limiter with the given configuration.
//
// Example:
//
//	limiter := ratelimit.NewLimiter(ratelimit.Config{Store: store})
//	result, err := limiter.Allow(ctx, key)
//	if err == nil && !result.Allowed {
//	    // respond 429 with result.RetryAfter
//	}
func NewLimiter(cfg Config) *Limiter {
	if cfg.TTLs == nil {
		cfg.TTLs = storage.DefaultTTLs()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		store:   cfg.Store,
		ttls:    cfg.TTLs,
		now:     cfg.Now,
		metrics: cfg.Metrics,
		logger:  slog.Default().With("component", "limits.ratelimit"),
	}
}

// Check peeks the key's minute, hour and day counters without mutating them.
//
// The request is allowed when every finite window is strictly below its
// ceiling. A ceiling of 0 always denies; limits.Unlimited skips the window.
// When several windows block, the result reports the one that resets last,
// since retrying earlier would still be denied.
func (l *Limiter) Check(ctx context.Context, key *limits.APIKey) (*CheckResult, error) {
	if key == nil {
		return nil, fmt.Errorf("api key cannot be nil")
	}

	now := l.now()
	reservation := &Reservation{
		TenantID: key.TenantID,
		APIKeyID: key.ID,
		At:       now,
	}

	var blocked *CheckResult
	for _, w := range limits.RateWindows {
		ceiling := key.Ceiling(w)
		if ceiling < 0 {
			continue
		}
		reservation.Windows = append(reservation.Windows, w)

		var current int64
		if ceiling > 0 {
			v, err := l.store.Peek(ctx, storage.RateKey(key.TenantID, key.ID, w, now))
			if err != nil {
				return nil, fmt.Errorf("rate limit check (%s): %w", w, err)
			}
			current = v
		}

		if current < ceiling {
			continue
		}

		l.metrics.RecordRateLimitHit(w)
		retryAfter := w.UntilReset(now)
		if blocked == nil || retryAfter > blocked.RetryAfter {
			blocked = &CheckResult{
				Allowed:    false,
				Window:     w,
				Limit:      ceiling,
				Current:    current,
				Reset:      w.End(now),
				RetryAfter: retryAfter,
			}
		}
	}

	if blocked != nil {
		return blocked, nil
	}

	return &CheckResult{Allowed: true, Reservation: reservation}, nil
}

// Commit counts the reserved request against every reserved window.
// Counters created by this call get the window's TTL.
//
// When a window fails, the windows already counted are decremented again so
// a failed commit leaves no allowance consumed.
func (l *Limiter) Commit(ctx context.Context, r *Reservation) error {
	if r == nil {
		return fmt.Errorf("reservation cannot be nil")
	}

	counted := make([]storage.Key, 0, len(r.Windows))
	for _, w := range r.Windows {
		key := storage.RateKey(r.TenantID, r.APIKeyID, w, r.At)

		v, err := l.store.IncrementAndGet(ctx, key, 1)
		if err != nil {
			l.rollback(ctx, counted)
			return fmt.Errorf("rate limit commit (%s): %w", w, err)
		}
		counted = append(counted, key)
		if v == 1 {
			if err := l.store.Expire(ctx, key, l.ttls.For(w)); err != nil {
				l.rollback(ctx, counted)
				return fmt.Errorf("rate limit expire (%s): %w", w, err)
			}
		}
	}

	return nil
}

// rollback undoes the increments of a failed commit on a context detached
// from the caller's deadline.
func (l *Limiter) rollback(ctx context.Context, keys []storage.Key) {
	if len(keys) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	for _, key := range keys {
		if _, err := l.store.IncrementAndGet(rctx, key, -1); err != nil {
			l.logger.Error("failed to roll back rate limit increment",
				"tenant_id", key.TenantID,
				"window", key.Window,
				"error", err,
			)
		}
	}
}

// Allow checks the key and, when allowed, commits immediately.
func (l *Limiter) Allow(ctx context.Context, key *limits.APIKey) (*CheckResult, error) {
	result, err := l.Check(ctx, key)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, nil
	}
	if err := l.Commit(ctx, result.Reservation); err != nil {
		return nil, err
	}
	return result, nil
}

// Status reports the current count of each rate window for a key.
// The values are advisory.
func (l *Limiter) Status(ctx context.Context, key *limits.APIKey) (map[limits.WindowKind]int64, error) {
	now := l.now()
	status := make(map[limits.WindowKind]int64, len(limits.RateWindows))
	for _, w := range limits.RateWindows {
		v, err := l.store.Peek(ctx, storage.RateKey(key.TenantID, key.ID, w, now))
		if err != nil {
			return nil, err
		}
		status[w] = v
	}
	return status, nil
}
