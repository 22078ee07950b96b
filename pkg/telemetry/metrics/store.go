package metrics

import (
	"context"
	"time"

	"mercator-hq/turnstile/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics tracks backing store health as seen by health checks.
//
// Metrics:
//   - turnstile_store_up: Store health (1=healthy, 0=unhealthy)
//   - turnstile_store_ping_duration_seconds: Ping latency
type StoreMetrics struct {
	up       *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// NewStoreMetrics creates and registers store metrics with the provided registry.
func NewStoreMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StoreMetrics {
	sm := &StoreMetrics{
		up: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "store_up",
				Help:      "Store health status (1=healthy, 0=unhealthy)",
			},
			[]string{"store"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "store_ping_duration_seconds",
				Help:      "Store ping latency in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"store"},
		),
	}

	registry.MustRegister(sm.up, sm.duration)

	return sm
}

// Observe records the outcome of one ping.
func (sm *StoreMetrics) Observe(store string, healthy bool, duration time.Duration) {
	value := 0.0
	if healthy {
		value = 1
	}
	sm.up.WithLabelValues(store).Set(value)
	sm.duration.WithLabelValues(store).Observe(duration.Seconds())
}

// InstrumentPing wraps a store ping so every call updates the store gauges.
// The returned function has the same shape as a health check.
//
//	checker.RegisterCritical("counter_store", collector.InstrumentPing("counter_store", store.Ping))
func (c *Collector) InstrumentPing(store string, ping func(context.Context) error) func(context.Context) error {
	if !c.config.Enabled {
		return ping
	}
	return func(ctx context.Context) error {
		start := time.Now()
		err := ping(ctx)
		c.stores.Observe(store, err == nil, time.Since(start))
		return err
	}
}
