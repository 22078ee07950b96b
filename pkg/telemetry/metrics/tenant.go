package metrics

import (
	"mercator-hq/turnstile/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// OtherTenant is the label value tenants beyond the cardinality limit share.
const OtherTenant = "other"

// TenantMetrics tracks admission decisions per tenant.
//
// Metrics:
//   - turnstile_tenant_admissions_total: Decisions by tenant and outcome
type TenantMetrics struct {
	admissions *prometheus.CounterVec
	limiter    *CardinalityLimiter
}

// NewTenantMetrics creates and registers tenant metrics with the provided registry.
func NewTenantMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *TenantMetrics {
	tm := &TenantMetrics{
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "tenant_admissions_total",
				Help:      "Total number of admission decisions by tenant and outcome",
			},
			[]string{"tenant", "outcome"},
		),
		limiter: NewCardinalityLimiter(cfg.MaxTenantSeries),
	}

	registry.MustRegister(tm.admissions)

	return tm
}

// Record counts one decision for tenantID.
func (tm *TenantMetrics) Record(tenantID string, admitted bool) {
	if tenantID == "" || !tm.limiter.Allow(tenantID) {
		tenantID = OtherTenant
	}
	outcome := "admitted"
	if !admitted {
		outcome = "denied"
	}
	tm.admissions.WithLabelValues(tenantID, outcome).Inc()
}
