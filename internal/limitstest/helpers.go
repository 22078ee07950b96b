// Package limitstest provides shared fixtures for admission tests.
package limitstest

import (
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

// Epoch is a fixed instant in the middle of a minute, hour, day and month.
var Epoch = time.Date(2026, 3, 14, 10, 30, 15, 0, time.UTC)

// Clock is a settable clock for window rollover tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// TestTenant returns a tenant on the given tier without overrides.
func TestTenant(id string, tier limits.Tier) *limits.Tenant {
	return &limits.Tenant{
		ID:   id,
		Name: "Test " + id,
		Tier: tier,
	}
}

// TestAPIKey returns an active, non-expiring read-write key with generous ceilings.
func TestAPIKey(id, tenantID string) *limits.APIKey {
	return &limits.APIKey{
		ID:        id,
		TenantID:  tenantID,
		Type:      limits.KeyReadWrite,
		PerMinute: 1000,
		PerHour:   10000,
		PerDay:    100000,
		Active:    true,
	}
}

// TestAPIKeyWithCeilings returns an active key with the given ceilings.
func TestAPIKeyWithCeilings(id, tenantID string, perMinute, perHour, perDay int64) *limits.APIKey {
	key := TestAPIKey(id, tenantID)
	key.PerMinute = perMinute
	key.PerHour = perHour
	key.PerDay = perDay
	return key
}
