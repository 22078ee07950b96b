// Package enforcement provides the failure policy of the admission gateway.
//
// # Overview
//
// When the counter store cannot be reached, each stage of an admission
// either fails open (the stage is treated as passed) or fails closed (the
// request is denied with an internal error and the outage is returned):
//
//   - Rate limit: fail open by default, so store blips do not add latency
//     or reject traffic
//   - Quota: fail closed by default, keeping monthly caps strict
//
// Errors that are not classified as limits.ErrStoreUnavailable always fail
// closed.
//
// # Usage
//
//	enforcer := enforcement.NewEnforcer(enforcement.Config{}, metrics)
//
//	result := enforcer.Enforce(ctx, enforcement.StageQuota, err)
//	if !result.Allowed {
//	    return limits.Deny(result.Reason), result.Err
//	}
//
// # Thread Safety
//
// The Enforcer is thread-safe and can be used concurrently from multiple goroutines.
package enforcement
