package limits

import (
	"fmt"
	"time"
)

// Unlimited is the limit sentinel meaning "no cap" for a quota or a rate ceiling.
const Unlimited int64 = -1

// ResourceType identifies a metered resource.
type ResourceType string

const (
	// ResourceContractAnalysis counts contract analyses.
	ResourceContractAnalysis ResourceType = "contract_analysis"

	// ResourceAIAnalysis counts AI-assisted analyses and rewrites.
	ResourceAIAnalysis ResourceType = "ai_analysis"

	// ResourceAPICall counts API calls.
	ResourceAPICall ResourceType = "api_call"

	// ResourceStorageMB counts stored megabytes.
	ResourceStorageMB ResourceType = "storage_mb"
)

// ResourceTypes lists every metered resource in a stable order.
var ResourceTypes = []ResourceType{
	ResourceContractAnalysis,
	ResourceAIAnalysis,
	ResourceAPICall,
	ResourceStorageMB,
}

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceContractAnalysis, ResourceAIAnalysis, ResourceAPICall, ResourceStorageMB:
		return true
	}
	return false
}

// Tier is a subscription tier.
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// KeyType is the permission class of an API key.
type KeyType string

const (
	KeyReadOnly  KeyType = "read_only"
	KeyReadWrite KeyType = "read_write"
	KeyAdmin     KeyType = "admin"
)

// Tenant is an organization account, the billing and quota unit.
// The engine only reads tenants; they change through subscription events.
type Tenant struct {
	// ID is the tenant identifier.
	ID string

	// Name is a display name.
	Name string

	// Tier is the subscription tier.
	Tier Tier

	// Limits overrides the tier's monthly limits for individual resources.
	// Resources absent from the map use the tier value.
	Limits map[ResourceType]int64
}

// APIKey is a credential scoped to a tenant with its own rate ceilings.
type APIKey struct {
	// ID is the key identifier (never the secret).
	ID string

	// TenantID is the owning tenant.
	TenantID string

	// Type is the permission class.
	Type KeyType

	// PerMinute, PerHour and PerDay are the rate ceilings.
	// 0 always denies; Unlimited disables the window.
	PerMinute int64
	PerHour   int64
	PerDay    int64

	// Active is false for revoked or suspended keys.
	Active bool

	// ExpiresAt is the expiry instant. The zero value never expires.
	ExpiresAt time.Time
}

// Usable reports whether the key may be used at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k == nil || !k.Active {
		return false
	}
	return k.ExpiresAt.IsZero() || now.Before(k.ExpiresAt)
}

// Ceiling returns the key's ceiling for a rate window.
func (k *APIKey) Ceiling(w WindowKind) int64 {
	switch w {
	case WindowMinute:
		return k.PerMinute
	case WindowHour:
		return k.PerHour
	case WindowDay:
		return k.PerDay
	}
	return Unlimited
}

// Reason explains an admission decision.
type Reason string

const (
	ReasonNone          Reason = "none"
	ReasonRateLimited   Reason = "rate_limited"
	ReasonQuotaExceeded Reason = "quota_exceeded"
	ReasonKeyInvalid    Reason = "key_invalid"
	ReasonInternalError Reason = "internal_error"
)

// Decision is the transient result of an admission check. It is never persisted.
type Decision struct {
	// Admitted is true when the request may proceed.
	Admitted bool `json:"admitted"`

	// Reason is ReasonNone for admitted requests.
	Reason Reason `json:"reason"`

	// Limit and Current are set for quota decisions ("Current of Limit used")
	// and for rate-limit denials (the blocking window).
	Limit   *int64 `json:"limit,omitempty"`
	Current *int64 `json:"current,omitempty"`

	// RetryAfter is set for rate-limit denials.
	RetryAfter time.Duration `json:"-"`

	// Window is the window that produced a denial.
	Window WindowKind `json:"window,omitempty"`

	// Overage marks an admission that went past the included quota and is billed.
	Overage bool `json:"overage,omitempty"`

	// FailOpen marks an admission made while a store outage was tolerated.
	FailOpen bool `json:"fail_open,omitempty"`
}

// Admit returns an admitting decision.
func Admit() Decision {
	return Decision{Admitted: true, Reason: ReasonNone}
}

// Deny returns a denying decision with the given reason.
func Deny(reason Reason) Decision {
	return Decision{Admitted: false, Reason: reason}
}

// WithUsage attaches limit and current values.
func (d Decision) WithUsage(limit, current int64) Decision {
	d.Limit = &limit
	d.Current = &current
	return d
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, as used by the
// Retry-After header. It returns 0 when no retry hint is set.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int64(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// Err converts a denial into its sentinel error wrapped in a LimitError.
// It returns nil for admitted decisions.
func (d Decision) Err() error {
	if d.Admitted {
		return nil
	}
	le := &LimitError{Reason: d.Reason, Err: ReasonError(d.Reason)}
	if d.Limit != nil {
		le.Limit = *d.Limit
	}
	if d.Current != nil {
		le.Current = *d.Current
	}
	return le
}

// String is used in logs.
func (d Decision) String() string {
	if d.Admitted {
		if d.Overage {
			return "admitted (overage)"
		}
		return "admitted"
	}
	return fmt.Sprintf("denied (%s)", d.Reason)
}
