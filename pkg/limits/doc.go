// Package limits provides the shared domain model of the metering engine.
//
// # Overview
//
// The limits package defines the vocabulary used by every component that takes
// part in an admission decision:
//
//   - Resource types (contract_analysis, ai_analysis, api_call, storage_mb)
//   - Subscription tiers and the tier policy table
//   - Tenants and API keys, as read from the directory
//   - Window kinds (minute, hour, day, month) and window arithmetic
//   - Admission decisions, denial reasons and error sentinels
//   - Prometheus metrics
//
// # Architecture
//
// The engine is organized into sub-packages:
//
//   - storage: the counter store contract and its memory, SQLite and Redis backends
//   - ratelimit: per-key fixed-window rate limiting (minute/hour/day)
//   - quota: per-tenant monthly quota enforcement
//   - enforcement: fail-open / fail-closed policy per failure class
//   - directory: tenant and API key lookup
//   - admission: the gateway composing all of the above into one decision
//
// # Usage
//
//	gw := admission.NewGateway(admission.Config{
//	    Directory: dir,
//	    Store:     store,
//	    Policies:  limits.DefaultPolicyTable(),
//	    Recorder:  rec,
//	})
//
//	decision, err := gw.Admit(ctx, admission.Request{
//	    TenantID: "org-1",
//	    APIKeyID: "key-1",
//	    Resource: limits.ResourceContractAnalysis,
//	})
//	if !decision.Admitted {
//	    return decision.Err()
//	}
//
// # Limits and sentinels
//
// A limit of Unlimited (-1) never denies. A rate ceiling of 0 always denies.
// A window admits exactly `limit` requests; the limit+1-th is denied.
package limits
