package metrics

import (
	"sync"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/usage/recorder"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector owns the Prometheus registry of a turnstile process and every
// metric family registered on it.
//
// The engine metrics (admissions, store errors, fail-open) and the recorder
// metrics live in their own packages; the collector registers them on its
// registry so a single /metrics endpoint exposes everything.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	limits   *limits.Metrics
	recorder *recorder.Metrics

	http    *HTTPMetrics
	tenants *TenantMetrics
	stores  *StoreMetrics
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a new registry is created.
//
//	cfg := &config.MetricsConfig{Enabled: true, Namespace: "turnstile"}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "turnstile"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}
	}
	if cfg.MaxTenantSeries <= 0 {
		cfg.MaxTenantSeries = 1000
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Collector{
		config:   cfg,
		registry: registry,
		limits:   limits.NewMetrics(registry),
		recorder: recorder.NewMetrics(registry),
		http:     NewHTTPMetrics(cfg, registry),
		tenants:  NewTenantMetrics(cfg, registry),
		stores:   NewStoreMetrics(cfg, registry),
	}
}

// Limits returns the engine metrics, or nil when metrics are disabled.
func (c *Collector) Limits() *limits.Metrics {
	if !c.config.Enabled {
		return nil
	}
	return c.limits
}

// Recorder returns the usage recorder metrics, or nil when metrics are disabled.
func (c *Collector) Recorder() *recorder.Metrics {
	if !c.config.Enabled {
		return nil
	}
	return c.recorder
}

// RecordTenantAdmission counts a decision against the tenant's series.
// Tenants beyond the cardinality limit are aggregated under "other".
func (c *Collector) RecordTenantAdmission(tenantID string, admitted bool) {
	if !c.config.Enabled {
		return
	}
	c.tenants.Record(tenantID, admitted)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label value is allowed. Returns true if the value
// already exists or if the limit has not been reached yet.
func (cl *CardinalityLimiter) Allow(label string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[label]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[label]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[label] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
