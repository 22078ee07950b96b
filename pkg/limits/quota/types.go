package quota

import (
	"time"

	"mercator-hq/turnstile/pkg/limits"
)

// Status contains the current usage of one resource for the running month.
type Status struct {
	// Resource is the metered resource.
	Resource limits.ResourceType `json:"resource"`

	// Limit is the effective monthly limit. limits.Unlimited means no cap.
	Limit int64 `json:"limit"`

	// Used is the count consumed in the current month.
	Used int64 `json:"used"`

	// Remaining is the allowance left, 0 when exhausted, -1 when unlimited.
	Remaining int64 `json:"remaining"`

	// Percentage is the share of the limit used (0.0-1.0+). 0 when unlimited.
	Percentage float64 `json:"percentage"`

	// Overage is the usage beyond the limit, billed on paid tiers.
	Overage int64 `json:"overage"`

	// ResetAt is the first instant of the next month (UTC).
	ResetAt time.Time `json:"reset_at"`

	// AlertTriggered indicates the alert threshold was reached.
	AlertTriggered bool `json:"alert_triggered"`
}

// Report is the advisory usage of a tenant across all resources.
type Report struct {
	TenantID string      `json:"tenant_id"`
	Tier     limits.Tier `json:"tier"`
	Period   time.Time   `json:"period"`
	Usage    []Status    `json:"usage"`
}
