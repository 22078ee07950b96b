package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the metering engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Admission decisions
	admissions *prometheus.CounterVec

	// Rate limit denials per window
	rateLimitHits *prometheus.CounterVec

	// Quota denials and billed overages
	quotaHits *prometheus.CounterVec
	overages  *prometheus.CounterVec

	// Counter store failures
	storeErrors *prometheus.CounterVec

	// Stages admitted while the store was down
	failOpen *prometheus.CounterVec

	// Admission latency
	admitDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg registers on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_admissions_total",
				Help: "Total number of admission decisions by resource and reason",
			},
			[]string{"resource", "reason"},
		),

		rateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_rate_limit_hits_total",
				Help: "Total number of rate limit denials by window",
			},
			[]string{"window"},
		),

		quotaHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_quota_hits_total",
				Help: "Total number of quota denials by tier and resource",
			},
			[]string{"tier", "resource"},
		),

		overages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_quota_overages_total",
				Help: "Total number of admissions billed as overage",
			},
			[]string{"tier", "resource"},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_store_errors_total",
				Help: "Total number of counter store failures by stage and class",
			},
			[]string{"stage", "class"},
		),

		failOpen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_fail_open_total",
				Help: "Total number of stages admitted because of a fail-open policy",
			},
			[]string{"stage"},
		),

		admitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_admit_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~160ms
			},
			[]string{"outcome"},
		),
	}
}

// RecordAdmission records a final admission decision.
func (m *Metrics) RecordAdmission(resource ResourceType, d Decision) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(string(resource), string(d.Reason)).Inc()
}

// RecordRateLimitHit records a rate limit denial.
func (m *Metrics) RecordRateLimitHit(window WindowKind) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(string(window)).Inc()
}

// RecordQuotaHit records a quota denial.
func (m *Metrics) RecordQuotaHit(tier Tier, resource ResourceType) {
	if m == nil {
		return
	}
	m.quotaHits.WithLabelValues(string(tier), string(resource)).Inc()
}

// RecordOverage records an admission billed as overage.
func (m *Metrics) RecordOverage(tier Tier, resource ResourceType) {
	if m == nil {
		return
	}
	m.overages.WithLabelValues(string(tier), string(resource)).Inc()
}

// RecordStoreError records a counter store failure. class is "unavailable" or "internal".
func (m *Metrics) RecordStoreError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	class := "internal"
	if IsStoreUnavailable(err) {
		class = "unavailable"
	}
	m.storeErrors.WithLabelValues(stage, class).Inc()
}

// RecordFailOpen records a stage admitted under a fail-open policy.
func (m *Metrics) RecordFailOpen(stage string) {
	if m == nil {
		return
	}
	m.failOpen.WithLabelValues(stage).Inc()
}

// RecordAdmitDuration records the duration of an Admit call.
func (m *Metrics) RecordAdmitDuration(admitted bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "admitted"
	if !admitted {
		outcome = "denied"
	}
	m.admitDuration.WithLabelValues(outcome).Observe(seconds)
}

// FailOpenCounter returns the fail-open counter of a stage.
func (m *Metrics) FailOpenCounter(stage string) prometheus.Counter {
	return m.failOpen.WithLabelValues(stage)
}

// StoreErrorCounter returns the store error counter of a stage and class.
func (m *Metrics) StoreErrorCounter(stage, class string) prometheus.Counter {
	return m.storeErrors.WithLabelValues(stage, class)
}

// AdmissionCounter returns the admission counter of a resource and reason.
func (m *Metrics) AdmissionCounter(resource ResourceType, reason Reason) prometheus.Counter {
	return m.admissions.WithLabelValues(string(resource), string(reason))
}
