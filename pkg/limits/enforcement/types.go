package enforcement

import (
	"fmt"

	"mercator-hq/turnstile/pkg/limits"
)

// Action defines what to do when a stage cannot reach the counter store.
type Action string

const (
	// ActionFailOpen treats the stage as passed.
	ActionFailOpen Action = "open"

	// ActionFailClosed denies the request and surfaces the outage.
	ActionFailClosed Action = "closed"
)

// ParseAction parses "open" or "closed".
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionFailOpen, ActionFailClosed:
		return Action(s), nil
	}
	return "", fmt.Errorf("invalid failure action %q (must be open or closed)", s)
}

// Stage identifies an admission stage that talks to the counter store.
type Stage string

const (
	StageRateLimit Stage = "rate_limit"
	StageQuota     Stage = "quota"
)

// Config contains the failure policy per stage.
type Config struct {
	// RateLimit is the action for store outages during rate limiting.
	// Default: open
	RateLimit Action

	// Quota is the action for store outages during quota enforcement.
	// Default: closed
	Quota Action
}

// Result contains the outcome of applying the failure policy.
type Result struct {
	// Allowed indicates if the request may continue past the stage.
	Allowed bool

	// Action is the action that was applied. Empty for unclassified errors.
	Action Action

	// Stage is the stage that failed.
	Stage Stage

	// Reason is limits.ReasonInternalError when not allowed.
	Reason limits.Reason

	// Err is the outage to return to the caller when a stage fails closed.
	// Unclassified errors are absorbed into the decision and leave Err nil.
	Err error
}

// FailOpen reports whether the request continues only because of the policy.
func (r *Result) FailOpen() bool {
	return r.Allowed && r.Action == ActionFailOpen
}
