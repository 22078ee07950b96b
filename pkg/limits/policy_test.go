package limits

import (
	"errors"
	"testing"
)

func TestDefaultTierPolicies(t *testing.T) {
	table := DefaultPolicyTable()

	tests := []struct {
		tier     Tier
		resource ResourceType
		want     int64
		overage  OveragePolicy
	}{
		{TierFree, ResourceAPICall, 100, OverageDeny},
		{TierStarter, ResourceAPICall, 1000, OverageBill},
		{TierProfessional, ResourceContractAnalysis, 1000, OverageBill},
		{TierEnterprise, ResourceAIAnalysis, Unlimited, OverageBill},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			p, err := table.Lookup(tt.tier)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if got := p.Limit(tt.resource); got != tt.want {
				t.Errorf("Limit(%s) = %d, want %d", tt.resource, got, tt.want)
			}
			if p.Overage != tt.overage {
				t.Errorf("Overage = %q, want %q", p.Overage, tt.overage)
			}
		})
	}
}

func TestPolicyTable_LimitFor(t *testing.T) {
	table := DefaultPolicyTable()

	tenant := &Tenant{
		ID:     "acme",
		Tier:   TierStarter,
		Limits: map[ResourceType]int64{ResourceAIAnalysis: 75},
	}

	got, _, err := table.LimitFor(tenant, ResourceAIAnalysis)
	if err != nil || got != 75 {
		t.Errorf("override: LimitFor() = %d, %v; want 75", got, err)
	}

	got, p, err := table.LimitFor(tenant, ResourceAPICall)
	if err != nil || got != 1000 {
		t.Errorf("tier value: LimitFor() = %d, %v; want 1000", got, err)
	}
	if p.RateCeilings.PerMinute != 60 {
		t.Errorf("RateCeilings.PerMinute = %d, want 60", p.RateCeilings.PerMinute)
	}

	_, _, err = table.LimitFor(&Tenant{ID: "x", Tier: "platinum"}, ResourceAPICall)
	if !errors.Is(err, ErrUnknownTier) {
		t.Errorf("unknown tier: err = %v, want ErrUnknownTier", err)
	}
}

func TestTierPolicy_MissingResourceIsUnlimited(t *testing.T) {
	p := TierPolicy{Limits: map[ResourceType]int64{ResourceAPICall: 5}}
	if got := p.Limit(ResourceStorageMB); got != Unlimited {
		t.Errorf("Limit() = %d, want Unlimited", got)
	}
}

func TestPolicyTable_Replace(t *testing.T) {
	rows := map[Tier]TierPolicy{
		TierFree: {Limits: map[ResourceType]int64{ResourceAPICall: 1}},
	}
	table := NewPolicyTable(rows)

	// Mutating the caller's map must not change the table.
	delete(rows, TierFree)
	if _, err := table.Lookup(TierFree); err != nil {
		t.Fatalf("Lookup() after caller mutation: %v", err)
	}

	table.Replace(map[Tier]TierPolicy{TierStarter: {}})
	if _, err := table.Lookup(TierFree); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("old row still present after Replace: %v", err)
	}
	if _, err := table.Lookup(TierStarter); err != nil {
		t.Errorf("new row missing after Replace: %v", err)
	}
}
