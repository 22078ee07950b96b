// Package tracing provides OpenTelemetry distributed tracing for turnstile.
//
// # Overview
//
// New installs an SDK tracer provider that exports over OTLP/gRPC with a
// parent-based sampler. The admission gateway and the HTTP middleware obtain
// their tracer from the global provider, so enabling tracing in the
// configuration is enough to export admission spans.
//
// # Span Hierarchy
//
//	HTTP POST /v1/admit
//	└── admission.Admit
//	        turnstile.tenant_id, turnstile.resource, turnstile.amount
//	        turnstile.decision.admitted, turnstile.decision.reason
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// When tracing is disabled a noop tracer is returned and spans cost almost
// nothing.
package tracing
