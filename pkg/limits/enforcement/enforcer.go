package enforcement

import (
	"context"
	"log/slog"

	"mercator-hq/turnstile/pkg/limits"
)

// Enforcer applies the fail-open / fail-closed policy to store failures.
//
// Only outages classified as limits.ErrStoreUnavailable are subject to the
// policy. Any other error always fails closed with an internal error, since
// the gateway never admits on a failure it cannot classify.
type Enforcer struct {
	config  Config
	metrics *limits.Metrics
	logger  *slog.Logger
}

// NewEnforcer creates a new failure policy enforcer.
//
// Example:
//
//	enforcer := NewEnforcer(Config{
//	    RateLimit: ActionFailOpen,
//	    Quota:     ActionFailClosed,
//	}, metrics)
func NewEnforcer(config Config, metrics *limits.Metrics) *Enforcer {
	// Apply defaults
	if config.RateLimit == "" {
		config.RateLimit = ActionFailOpen
	}
	if config.Quota == "" {
		config.Quota = ActionFailClosed
	}

	return &Enforcer{
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "limits.enforcement"),
	}
}

// Enforce decides how a stage failure affects the request.
// A nil err is allowed unchanged.
func (e *Enforcer) Enforce(ctx context.Context, stage Stage, err error) *Result {
	if err == nil {
		return &Result{Allowed: true, Stage: stage}
	}

	e.metrics.RecordStoreError(string(stage), err)

	if !limits.IsStoreUnavailable(err) {
		e.logger.ErrorContext(ctx, "unclassified admission failure",
			"stage", stage,
			"error", err,
		)
		return &Result{
			Allowed: false,
			Stage:   stage,
			Reason:  limits.ReasonInternalError,
		}
	}

	action := e.actionFor(stage)
	if action == ActionFailOpen {
		e.metrics.RecordFailOpen(string(stage))
		e.logger.WarnContext(ctx, "counter store unavailable, failing open",
			"stage", stage,
			"error", err,
		)
		return &Result{
			Allowed: true,
			Action:  ActionFailOpen,
			Stage:   stage,
		}
	}

	e.logger.ErrorContext(ctx, "counter store unavailable, failing closed",
		"stage", stage,
		"error", err,
	)
	return &Result{
		Allowed: false,
		Action:  ActionFailClosed,
		Stage:   stage,
		Reason:  limits.ReasonInternalError,
		Err:     err,
	}
}

// actionFor returns the configured action of a stage. Unknown stages fail closed.
func (e *Enforcer) actionFor(stage Stage) Action {
	switch stage {
	case StageRateLimit:
		return e.config.RateLimit
	case StageQuota:
		return e.config.Quota
	}
	return ActionFailClosed
}

// GetConfig returns the current enforcer configuration.
func (e *Enforcer) GetConfig() Config {
	return e.config
}
