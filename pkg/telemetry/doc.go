// Package telemetry groups the observability packages of turnstile.
//
// # Components
//
//   - logging: slog setup, request and tenant context fields, PII redaction
//   - metrics: Prometheus registry, HTTP route metrics, bounded tenant series
//   - tracing: OpenTelemetry SDK setup with an OTLP/gRPC exporter
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//		return err
//	}
//	logger.SetDefault()
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(ctx)
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCritical("counter_store", collector.InstrumentPing("counter_store", store.Ping))
//
// The engine package performs this wiring; these packages are usable on their
// own when embedding the admission gateway.
//
// # Redaction
//
// With telemetry.logging.redact_pii enabled, secret keys, bearer tokens,
// passwords and emails are masked in log messages and attributes before they
// are written. Extra patterns can be configured.
package telemetry
