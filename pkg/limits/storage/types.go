package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

// Store defines the counter store contract.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// IncrementAndGet atomically adds amount to the counter and returns the
	// post-increment value. It must be linearizable per key across all callers,
	// including callers in other processes for shared backends. A negative
	// amount is used for compensation.
	IncrementAndGet(ctx context.Context, key Key, amount int64) (int64, error)

	// Peek returns the current value without mutating it. Missing or expired
	// counters read as 0. The value may be slightly stale.
	Peek(ctx context.Context, key Key) (int64, error)

	// Expire sets or refreshes the counter's time to live.
	Expire(ctx context.Context, key Key, ttl time.Duration) error

	// Sweep removes counters whose expiry is before now and returns how many
	// were deleted. Backends with native expiry return 0.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Key identifies one counter: (tenant, subject, window kind, window start).
// Subject is the resource type for quota counters and "api_key:<id>" for
// rate-limit counters.
type Key struct {
	TenantID string
	Subject  string
	Window   limits.WindowKind
	Start    time.Time
}

// QuotaKey returns the monthly counter key for a tenant's resource.
func QuotaKey(tenantID string, resource limits.ResourceType, now time.Time) Key {
	return Key{
		TenantID: tenantID,
		Subject:  string(resource),
		Window:   limits.WindowMonth,
		Start:    limits.WindowMonth.Start(now),
	}
}

// RateKey returns the rate-limit counter key for an API key and window.
func RateKey(tenantID, apiKeyID string, window limits.WindowKind, now time.Time) Key {
	return Key{
		TenantID: tenantID,
		Subject:  "api_key:" + apiKeyID,
		Window:   window,
		Start:    window.Start(now),
	}
}

// String renders the key as tenant|subject|window|start-unix.
func (k Key) String() string {
	var sb strings.Builder
	sb.WriteString(k.TenantID)
	sb.WriteByte('|')
	sb.WriteString(k.Subject)
	sb.WriteByte('|')
	sb.WriteString(string(k.Window))
	sb.WriteByte('|')
	sb.WriteString(fmt.Sprint(k.Start.Unix()))
	return sb.String()
}

// Validate checks that all key components are set.
func (k Key) Validate() error {
	if k.TenantID == "" {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if k.Subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}
	if !k.Window.Valid() {
		return fmt.Errorf("invalid window kind %q", string(k.Window))
	}
	if k.Start.IsZero() {
		return fmt.Errorf("window start cannot be zero")
	}
	return nil
}

// TTLs holds the counter time to live for each window kind.
type TTLs map[limits.WindowKind]time.Duration

// DefaultTTLs returns the default retention per window kind. Each TTL outlives
// its window so late readers still see the final count.
func DefaultTTLs() TTLs {
	return TTLs{
		limits.WindowMinute: 2 * time.Minute,
		limits.WindowHour:   2 * time.Hour,
		limits.WindowDay:    48 * time.Hour,
		limits.WindowMonth:  40 * 24 * time.Hour,
	}
}

// For returns the TTL of a window kind, falling back to the default.
func (t TTLs) For(w limits.WindowKind) time.Duration {
	if d, ok := t[w]; ok && d > 0 {
		return d
	}
	return DefaultTTLs()[w]
}
