// Package health provides health check endpoints for turnstile.
//
// # Endpoints
//
//   - /health: Liveness probe. Reports that the process is running.
//   - /ready: Readiness probe. Runs the registered component checks.
//   - /version: Build information.
//
// # Critical and non-critical checks
//
// Admission cannot decide quota without the counter store, so it is
// registered as critical: when it fails the readiness probe returns 503.
// The usage event storage is non-critical because the recorder buffers
// events; when it fails the probe reports "degraded" with 200.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCritical("counter_store", store.Ping)
//	checker.RegisterCheck("event_storage", events.Ping)
//
//	mux := http.NewServeMux()
//	health.Register(mux, checker, health.Paths{}, version, commit, buildTime)
//
// Checks run concurrently, each under the checker timeout. The readiness
// endpoint is rate limited so probes cannot hammer the stores.
package health
