package limits

import (
	"fmt"
	"sync"
)

// OveragePolicy decides what happens when a consumer loses the race against
// a concurrent consumer and pushes a monthly counter past its limit.
type OveragePolicy string

const (
	// OverageBill admits the request that caused the overage; it is billed.
	OverageBill OveragePolicy = "bill"

	// OverageDeny rejects the request and rolls its increment back.
	OverageDeny OveragePolicy = "deny"
)

// RateCeilings are the default per-key rate ceilings of a tier.
type RateCeilings struct {
	PerMinute int64
	PerHour   int64
	PerDay    int64
}

// TierPolicy is one row of the tier table.
type TierPolicy struct {
	// Limits are the monthly resource limits. Unlimited means no cap.
	// A resource missing from the map is unlimited.
	Limits map[ResourceType]int64

	// Overage is the race-overage policy.
	Overage OveragePolicy

	// RateCeilings are the default rate ceilings for keys of this tier.
	RateCeilings RateCeilings
}

// Limit returns the monthly limit for a resource.
func (p TierPolicy) Limit(r ResourceType) int64 {
	v, ok := p.Limits[r]
	if !ok {
		return Unlimited
	}
	return v
}

// PolicyTable maps tiers to their policies. It is safe for concurrent use and
// may be replaced wholesale on configuration reload.
type PolicyTable struct {
	mu    sync.RWMutex
	tiers map[Tier]TierPolicy
}

// NewPolicyTable creates a table from the given rows.
func NewPolicyTable(tiers map[Tier]TierPolicy) *PolicyTable {
	t := &PolicyTable{}
	t.Replace(tiers)
	return t
}

// DefaultPolicyTable returns the built-in tier table.
func DefaultPolicyTable() *PolicyTable {
	return NewPolicyTable(DefaultTierPolicies())
}

// DefaultTierPolicies returns the built-in tier rows.
func DefaultTierPolicies() map[Tier]TierPolicy {
	return map[Tier]TierPolicy{
		TierFree: {
			Limits: map[ResourceType]int64{
				ResourceContractAnalysis: 10,
				ResourceAIAnalysis:       5,
				ResourceAPICall:          100,
				ResourceStorageMB:        100,
			},
			Overage:      OverageDeny,
			RateCeilings: RateCeilings{PerMinute: 10, PerHour: 100, PerDay: 500},
		},
		TierStarter: {
			Limits: map[ResourceType]int64{
				ResourceContractAnalysis: 100,
				ResourceAIAnalysis:       50,
				ResourceAPICall:          1000,
				ResourceStorageMB:        1024,
			},
			Overage:      OverageBill,
			RateCeilings: RateCeilings{PerMinute: 60, PerHour: 1000, PerDay: 10000},
		},
		TierProfessional: {
			Limits: map[ResourceType]int64{
				ResourceContractAnalysis: 1000,
				ResourceAIAnalysis:       500,
				ResourceAPICall:          10000,
				ResourceStorageMB:        10240,
			},
			Overage:      OverageBill,
			RateCeilings: RateCeilings{PerMinute: 300, PerHour: 5000, PerDay: 50000},
		},
		TierEnterprise: {
			Limits: map[ResourceType]int64{
				ResourceContractAnalysis: Unlimited,
				ResourceAIAnalysis:       Unlimited,
				ResourceAPICall:          Unlimited,
				ResourceStorageMB:        Unlimited,
			},
			Overage:      OverageBill,
			RateCeilings: RateCeilings{PerMinute: 1000, PerHour: 20000, PerDay: 200000},
		},
	}
}

// Lookup returns the policy for a tier.
func (t *PolicyTable) Lookup(tier Tier) (TierPolicy, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.tiers[tier]
	if !ok {
		return TierPolicy{}, fmt.Errorf("%w: %q", ErrUnknownTier, string(tier))
	}
	return p, nil
}

// LimitFor resolves the effective monthly limit of a tenant for a resource:
// the tenant override if present, otherwise the tier value.
func (t *PolicyTable) LimitFor(tenant *Tenant, r ResourceType) (int64, TierPolicy, error) {
	p, err := t.Lookup(tenant.Tier)
	if err != nil {
		return 0, TierPolicy{}, err
	}
	if v, ok := tenant.Limits[r]; ok {
		return v, p, nil
	}
	return p.Limit(r), p, nil
}

// Replace swaps all rows atomically.
func (t *PolicyTable) Replace(tiers map[Tier]TierPolicy) {
	copied := make(map[Tier]TierPolicy, len(tiers))
	for k, v := range tiers {
		copied[k] = v
	}

	t.mu.Lock()
	t.tiers = copied
	t.mu.Unlock()
}
