package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

// Directory resolves tenants and API keys. The engine only reads it.
// Implementations must be safe for concurrent use.
type Directory interface {
	// Tenant returns the tenant with the given ID or an error wrapping
	// limits.ErrNotFound.
	Tenant(ctx context.Context, id string) (*limits.Tenant, error)

	// APIKey returns the key with the given ID or an error wrapping
	// limits.ErrNotFound.
	APIKey(ctx context.Context, id string) (*limits.APIKey, error)
}

// Static is an in-memory directory built from configuration.
// Its contents can be swapped atomically on reload.
type Static struct {
	mu      sync.RWMutex
	tenants map[string]*limits.Tenant
	keys    map[string]*limits.APIKey
}

// NewStatic creates a directory with the given tenants and keys.
func NewStatic(tenants []*limits.Tenant, keys []*limits.APIKey) *Static {
	s := &Static{}
	s.Replace(tenants, keys)
	return s
}

// Tenant implements Directory.
func (s *Static) Tenant(ctx context.Context, id string) (*limits.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", id, limits.ErrNotFound)
	}
	return t, nil
}

// APIKey implements Directory.
func (s *Static) APIKey(ctx context.Context, id string) (*limits.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("api key %q: %w", id, limits.ErrNotFound)
	}
	return k, nil
}

// Tenants returns all tenants sorted by ID.
func (s *Static) Tenants() []*limits.Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*limits.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// APIKeys returns all API keys sorted by ID.
func (s *Static) APIKeys() []*limits.APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*limits.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutTenant adds or replaces a tenant.
func (s *Static) PutTenant(t *limits.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// PutAPIKey adds or replaces an API key.
func (s *Static) PutAPIKey(k *limits.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
}

// RemoveAPIKey removes an API key.
func (s *Static) RemoveAPIKey(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
}

// Replace swaps the full contents atomically.
func (s *Static) Replace(tenants []*limits.Tenant, keys []*limits.APIKey) {
	tm := make(map[string]*limits.Tenant, len(tenants))
	for _, t := range tenants {
		tm[t.ID] = t
	}
	km := make(map[string]*limits.APIKey, len(keys))
	for _, k := range keys {
		km[k.ID] = k
	}

	s.mu.Lock()
	s.tenants = tm
	s.keys = km
	s.mu.Unlock()
}

// Authorize resolves the key and its tenant and checks that the key may be
// used at now: it exists, belongs to tenantID, is active and has not expired.
// Every failure wraps limits.ErrKeyInvalid, except directory errors other
// than limits.ErrNotFound, which are returned as is.
func Authorize(ctx context.Context, dir Directory, tenantID, keyID string, now time.Time) (*limits.Tenant, *limits.APIKey, error) {
	key, err := dir.APIKey(ctx, keyID)
	if err != nil {
		return nil, nil, invalid(err)
	}
	if key.TenantID != tenantID {
		return nil, nil, fmt.Errorf("%w: key %q does not belong to tenant %q", limits.ErrKeyInvalid, keyID, tenantID)
	}
	if !key.Active {
		return nil, nil, fmt.Errorf("%w: key %q is inactive", limits.ErrKeyInvalid, keyID)
	}
	if !key.Usable(now) {
		return nil, nil, fmt.Errorf("%w: key %q expired at %s", limits.ErrKeyInvalid, keyID, key.ExpiresAt.Format(time.RFC3339))
	}

	tenant, err := dir.Tenant(ctx, tenantID)
	if err != nil {
		return nil, nil, invalid(err)
	}
	return tenant, key, nil
}

func invalid(err error) error {
	if limits.IsNotFound(err) {
		return fmt.Errorf("%w: %w", limits.ErrKeyInvalid, err)
	}
	return err
}

// InheritCeilings returns a copy of key where every ceiling marked unset
// takes the tier default.
func InheritCeilings(key limits.APIKey, perMinute, perHour, perDay *int64, tier limits.RateCeilings) limits.APIKey {
	key.PerMinute = pick(perMinute, tier.PerMinute)
	key.PerHour = pick(perHour, tier.PerHour)
	key.PerDay = pick(perDay, tier.PerDay)
	return key
}

func pick(v *int64, fallback int64) int64 {
	if v == nil {
		return fallback
	}
	return *v
}
