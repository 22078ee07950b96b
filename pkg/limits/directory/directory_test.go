package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

var now = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestDirectory() *Static {
	return NewStatic(
		[]*limits.Tenant{
			{ID: "org-1", Tier: limits.TierStarter},
			{ID: "org-2", Tier: limits.TierFree},
		},
		[]*limits.APIKey{
			{ID: "key-active", TenantID: "org-1", Active: true, PerMinute: 10},
			{ID: "key-inactive", TenantID: "org-1", Active: false},
			{ID: "key-expired", TenantID: "org-1", Active: true, ExpiresAt: now.Add(-time.Hour)},
			{ID: "key-future", TenantID: "org-1", Active: true, ExpiresAt: now.Add(time.Hour)},
			{ID: "key-orphan", TenantID: "org-9", Active: true},
		},
	)
}

func TestAuthorize(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()

	tests := []struct {
		name     string
		tenantID string
		keyID    string
		wantErr  bool
	}{
		{"active key", "org-1", "key-active", false},
		{"key with future expiry", "org-1", "key-future", false},
		{"unknown key", "org-1", "key-missing", true},
		{"inactive key", "org-1", "key-inactive", true},
		{"expired key", "org-1", "key-expired", true},
		{"foreign tenant", "org-2", "key-active", true},
		{"unknown tenant", "org-9", "key-orphan", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenant, key, err := Authorize(ctx, dir, tt.tenantID, tt.keyID, now)
			if tt.wantErr {
				if !errors.Is(err, limits.ErrKeyInvalid) {
					t.Errorf("Expected ErrKeyInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authorize failed: %v", err)
			}
			if tenant.ID != tt.tenantID || key.ID != tt.keyID {
				t.Errorf("Expected %s/%s, got %s/%s", tt.tenantID, tt.keyID, tenant.ID, key.ID)
			}
		})
	}
}

func TestAuthorize_ExpiryBoundary(t *testing.T) {
	dir := NewStatic(
		[]*limits.Tenant{{ID: "org-1", Tier: limits.TierFree}},
		[]*limits.APIKey{{ID: "k", TenantID: "org-1", Active: true, ExpiresAt: now}},
	)

	if _, _, err := Authorize(context.Background(), dir, "org-1", "k", now.Add(-time.Nanosecond)); err != nil {
		t.Errorf("Expected key usable before expiry, got %v", err)
	}
	if _, _, err := Authorize(context.Background(), dir, "org-1", "k", now); !errors.Is(err, limits.ErrKeyInvalid) {
		t.Errorf("Expected key invalid at expiry instant, got %v", err)
	}
}

func TestStatic_Lookup(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()

	if _, err := dir.Tenant(ctx, "missing"); !errors.Is(err, limits.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := dir.APIKey(ctx, "missing"); !errors.Is(err, limits.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if len(dir.Tenants()) != 2 {
		t.Errorf("Expected 2 tenants, got %d", len(dir.Tenants()))
	}
	keys := dir.APIKeys()
	if len(keys) != 5 || keys[0].ID != "key-active" {
		t.Errorf("Expected 5 sorted keys, got %d starting with %s", len(keys), keys[0].ID)
	}
}

func TestStatic_PutAndRemove(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()

	dir.PutAPIKey(&limits.APIKey{ID: "key-new", TenantID: "org-2", Active: true})
	if _, _, err := Authorize(ctx, dir, "org-2", "key-new", now); err != nil {
		t.Errorf("Expected new key valid, got %v", err)
	}

	dir.RemoveAPIKey("key-new")
	if _, _, err := Authorize(ctx, dir, "org-2", "key-new", now); !errors.Is(err, limits.ErrKeyInvalid) {
		t.Errorf("Expected removed key invalid, got %v", err)
	}

	dir.PutTenant(&limits.Tenant{ID: "org-9", Tier: limits.TierEnterprise})
	if _, _, err := Authorize(ctx, dir, "org-9", "key-orphan", now); err != nil {
		t.Errorf("Expected key valid once tenant exists, got %v", err)
	}
}

func TestStatic_ReplaceConcurrent(t *testing.T) {
	dir := newTestDirectory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _, _ = Authorize(ctx, dir, "org-1", "key-active", now)
			}
		}()
		go func() {
			defer wg.Done()
			dir.Replace(
				[]*limits.Tenant{{ID: "org-1", Tier: limits.TierStarter}},
				[]*limits.APIKey{{ID: "key-active", TenantID: "org-1", Active: true}},
			)
		}()
	}
	wg.Wait()

	if len(dir.APIKeys()) != 1 {
		t.Errorf("Expected 1 key after replace, got %d", len(dir.APIKeys()))
	}
}

func TestInheritCeilings(t *testing.T) {
	tier := limits.RateCeilings{PerMinute: 60, PerHour: 1000, PerDay: 10000}
	perMinute := int64(5)
	zero := int64(0)

	key := InheritCeilings(limits.APIKey{ID: "k"}, &perMinute, nil, &zero, tier)

	if key.PerMinute != 5 {
		t.Errorf("Expected explicit per-minute 5, got %d", key.PerMinute)
	}
	if key.PerHour != 1000 {
		t.Errorf("Expected inherited per-hour 1000, got %d", key.PerHour)
	}
	if key.PerDay != 0 {
		t.Errorf("Expected explicit per-day 0 kept, got %d", key.PerDay)
	}
}
