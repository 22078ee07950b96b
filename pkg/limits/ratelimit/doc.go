// Package ratelimit provides per-API-key fixed-window rate limiting.
//
// # Overview
//
// Every API key carries three ceilings: requests per minute, per hour and per
// day. For each window the limiter derives a counter key from the window
// start (floor(now / size) * size, UTC), so a new window starts from zero
// without any reset step and stale windows are reclaimed by counter expiry.
//
// # Check then commit
//
//	result, err := limiter.Check(ctx, key)
//	if err != nil {
//	    // store failure: apply the rate-limit failure policy
//	}
//	if !result.Allowed {
//	    // 429, Retry-After: result.RetryAfter
//	}
//	// ... other admission stages ...
//	err = limiter.Commit(ctx, result.Reservation)
//
// A ceiling of N admits exactly N requests per window; the N+1-th is denied.
// A ceiling of 0 always denies and limits.Unlimited disables the window.
//
// # Accuracy
//
// The check and the increments are separate store operations. N concurrent
// requests against the same window can admit at most N-1 requests beyond the
// ceiling. Fixed windows also admit up to twice the ceiling across a boundary.
package ratelimit
