// Package quota enforces per-tenant monthly resource quotas.
//
// # Overview
//
// Each tenant has a monthly limit per resource type (contract analyses, AI
// analyses, API calls, storage), taken from its tier in the policy table and
// optionally overridden per tenant. A limit of limits.Unlimited (-1) never
// denies and never touches a counter.
//
// # Algorithm
//
//	current := Peek(month counter)
//	if current+amount > limit: deny quota_exceeded (limit, current)
//	value := IncrementAndGet(month counter, amount)
//	if value > limit: apply the tier overage policy
//	    bill: admit, Overage=true
//	    deny: IncrementAndGet(-amount), deny
//
// # Usage
//
//	enforcer := quota.NewEnforcer(quota.Config{Store: store})
//	decision, err := enforcer.CheckAndConsume(ctx, tenant, limits.ResourceAPICall, 1)
//
// Usage returns an advisory per-resource report ("X of Y used", reset time)
// with an optional alert threshold.
package quota
