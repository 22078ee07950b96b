package ratelimit

import (
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

// CheckResult contains the result of a rate limit check.
// This is returned by Limiter.Check() to indicate if a request is allowed.
type CheckResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Window is the blocking window with the latest reset (if Allowed=false).
	Window limits.WindowKind

	// Limit is the ceiling of the blocking window.
	Limit int64

	// Current is the count observed in the blocking window.
	Current int64

	// Reset is when the blocking window resets.
	Reset time.Time

	// RetryAfter suggests how long to wait before retrying.
	RetryAfter time.Duration

	// Reservation is set when Allowed is true and must be passed to Commit
	// once the rest of the admission succeeds.
	Reservation *Reservation
}

// Decision converts the result into an admission decision.
func (r *CheckResult) Decision() limits.Decision {
	if r.Allowed {
		return limits.Admit()
	}
	d := limits.Deny(limits.ReasonRateLimited).WithUsage(r.Limit, r.Current)
	d.RetryAfter = r.RetryAfter
	d.Window = r.Window
	return d
}

// Reservation names the counters a checked request will increment.
// It pins the window starts observed by Check so a commit that straddles a
// boundary still lands in the windows that were checked.
type Reservation struct {
	TenantID string
	APIKeyID string

	// At is the instant the check was made.
	At time.Time

	// Windows are the windows with a finite ceiling.
	Windows []limits.WindowKind
}
