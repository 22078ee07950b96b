// Package server exposes the admission gateway and usage events over HTTP.
//
// # Routes
//
//	POST /v1/admit                    admission decision
//	GET  /v1/tenants/{tenant}/usage   advisory current-month usage
//	GET  /v1/keys/{key}/rate          current rate window counts of a key
//	GET  /v1/events                   usage events (json, jsonl or csv)
//	GET  /metrics                     Prometheus metrics
//	GET  /health, /ready, /version    probes
//
// # Admission Status Codes
//
// POST /v1/admit always returns the decision as JSON. The status code
// reflects the reason:
//
//	200  admitted
//	429  rate_limited, with Retry-After
//	402  quota_exceeded
//	403  key_invalid
//	503  internal_error caused by a counter store outage on a fail-closed stage
//	500  any other internal_error
//
// Malformed bodies are rejected with 400 before reaching the gateway.
//
// # Middleware
//
// Every request gets an X-Request-ID (the caller's or a new UUID) that is
// attached to log records, a completion log line and panic recovery. API
// routes are additionally traced and counted per route pattern.
//
// # Callers and TLS
//
// With server.auth enabled, /v1 routes require a bearer token of a
// configured caller or a client certificate verified against
// server.tls.client_ca_file. The certificate's common name is the caller.
// Probes and metrics stay unauthenticated.
//
// The TLS key pair is re-read when its files change, so renewed
// certificates are served without a restart.
package server
