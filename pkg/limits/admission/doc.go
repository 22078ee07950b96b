// Package admission is the single entry point that decides whether a metered
// request may proceed.
//
// # Pipeline
//
//	1. directory.Authorize      key exists, belongs to the tenant, active, unexpired
//	2. ratelimit.Check          peek minute/hour/day counters
//	3. quota.CheckAndConsume    peek and increment the monthly counter
//	4. ratelimit.Commit         increment the rate counters
//	5. Recorder.Record          one usage event per decision, asynchronously
//
// Each store stage runs under StoreTimeout. A stage that times out or reports
// limits.ErrStoreUnavailable follows the failure policy of its stage: rate
// limiting fails open by default and quota fails closed. Any other error
// denies with internal_error.
//
// # Usage
//
//	gw, err := admission.New(admission.Config{
//	    Directory: dir,
//	    Store:     store,
//	    Recorder:  rec,
//	})
//	decision, err := gw.Admit(ctx, admission.Request{
//	    TenantID: "acme",
//	    APIKeyID: "key-1",
//	    Resource: limits.ResourceAPICall,
//	})
//	if err != nil {
//	    // counter store unavailable and the stage fails closed
//	}
//	if !decision.Admitted {
//	    return decision.Err()
//	}
//
// Counters are never mutated for a denied request, so retries after a denial
// do not consume allowance.
package admission
