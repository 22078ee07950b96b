// Package metrics provides Prometheus metrics collection for turnstile.
//
// # Overview
//
// A Collector owns one registry. It registers the engine metrics from
// pkg/limits, the recorder metrics from pkg/usage/recorder, Go runtime and
// process collectors, and the families defined here:
//
//   - HTTP metrics: request count, duration and in-flight requests per route
//   - Tenant metrics: admission decisions per tenant, cardinality limited
//   - Store metrics: store health and ping latency from health checks
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	gw, _ := admission.New(admission.Config{Metrics: collector.Limits(), ...})
//	rec := recorder.NewRecorder(events, recCfg, collector.Recorder())
//
//	mux.Handle("POST /v1/admit", collector.Instrument("/v1/admit", admitHandler))
//	mux.Handle("/metrics", collector.Handler())
//
// # Cardinality
//
// Tenant IDs are unbounded. After MaxTenantSeries distinct tenants have been
// seen, further tenants are counted under the "other" label.
//
// When metrics are disabled Limits and Recorder return nil, which both
// packages treat as a no-op recorder.
package metrics
