package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/directory"
	"mercator-hq/turnstile/pkg/limits/enforcement"
	"mercator-hq/turnstile/pkg/limits/quota"
	"mercator-hq/turnstile/pkg/limits/ratelimit"
	"mercator-hq/turnstile/pkg/limits/storage"
	"mercator-hq/turnstile/pkg/telemetry/logging"
	"mercator-hq/turnstile/pkg/telemetry/tracing"
	"mercator-hq/turnstile/pkg/usage"
)

// DefaultStoreTimeout bounds each counter store stage of an admission.
const DefaultStoreTimeout = 200 * time.Millisecond

// MaxAmount is the largest quantity a single admission may consume.
const MaxAmount = math.MaxInt32

// Request is one admission request.
type Request struct {
	TenantID string              `json:"tenant_id"`
	APIKeyID string              `json:"api_key_id"`
	Resource limits.ResourceType `json:"resource_type"`

	// Amount is the quantity to consume, at most MaxAmount. 0 means 1.
	Amount int64 `json:"amount,omitempty"`
}

// Recorder receives one usage event per admission decision.
// Record must not block the caller for long and must not fail it.
type Recorder interface {
	Record(event *usage.Event)
}

// Config configures a Gateway.
type Config struct {
	// Directory resolves tenants and API keys. Required.
	Directory directory.Directory

	// Store holds rate limit counters, and quota counters unless QuotaStore
	// is set. Required.
	Store storage.Store

	// QuotaStore holds monthly quota counters. Default: Store.
	QuotaStore storage.Store

	// Policies is the tier table. Default: limits.DefaultPolicyTable().
	Policies *limits.PolicyTable

	// Recorder receives usage events. Optional.
	Recorder Recorder

	// FailurePolicy is the per-stage reaction to store outages.
	// Default: rate limiting fails open, quota fails closed.
	FailurePolicy enforcement.Config

	// StoreTimeout bounds each store stage. Default: DefaultStoreTimeout.
	StoreTimeout time.Duration

	// TTLs are the counter TTLs per window. Default: storage.DefaultTTLs().
	TTLs storage.TTLs

	// AlertThreshold is the usage share reported as an alert by Usage.
	AlertThreshold float64

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time

	// Metrics records decisions, denials and outages. Optional.
	Metrics *limits.Metrics

	// Tracer creates admission spans. Default: the global otel tracer.
	Tracer trace.Tracer
}

// Gateway is the single admission entry point. It composes the key
// directory, the rate limiter and the quota enforcer, applies the failure
// policy to store outages and emits a usage event for every decision.
type Gateway struct {
	dir          directory.Directory
	store        storage.Store
	quotaStore   storage.Store
	limiter      *ratelimit.Limiter
	quota        *quota.Enforcer
	failure      *enforcement.Enforcer
	recorder     Recorder
	storeTimeout time.Duration
	now          func() time.Time
	metrics      *limits.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Directory == nil {
		return nil, errors.New("admission: directory is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("admission: counter store is required")
	}
	if cfg.QuotaStore == nil {
		cfg.QuotaStore = cfg.Store
	}
	if cfg.Policies == nil {
		cfg.Policies = limits.DefaultPolicyTable()
	}
	if cfg.TTLs == nil {
		cfg.TTLs = storage.DefaultTTLs()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("turnstile/admission")
	}

	return &Gateway{
		dir:        cfg.Directory,
		store:      cfg.Store,
		quotaStore: cfg.QuotaStore,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			Store:   cfg.Store,
			TTLs:    cfg.TTLs,
			Now:     cfg.Now,
			Metrics: cfg.Metrics,
		}),
		quota: quota.NewEnforcer(quota.Config{
			Store:          cfg.QuotaStore,
			Policies:       cfg.Policies,
			MonthTTL:       cfg.TTLs.For(limits.WindowMonth),
			AlertThreshold: cfg.AlertThreshold,
			Now:            cfg.Now,
			Metrics:        cfg.Metrics,
		}),
		failure:      enforcement.NewEnforcer(cfg.FailurePolicy, cfg.Metrics),
		recorder:     cfg.Recorder,
		storeTimeout: cfg.StoreTimeout,
		now:          cfg.Now,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		logger:       slog.Default().With("component", "limits.admission"),
	}, nil
}

// Admit decides whether the request may proceed and, if so, consumes rate
// and quota allowance for it.
//
// The returned error is non-nil only when a stage configured to fail closed
// could not reach the counter store; it then wraps limits.ErrStoreUnavailable
// and the decision denies with limits.ReasonInternalError. Every other
// failure, including panics, is folded into an internal_error denial.
//
// Denials have no counter side effects: rate counters are committed only
// after the quota stage admits, and a failed commit refunds the quota.
func (g *Gateway) Admit(ctx context.Context, req Request) (decision limits.Decision, err error) {
	start := time.Now()
	at := g.now()
	if req.Amount == 0 {
		req.Amount = 1
	}

	ctx = logging.WithTenantID(ctx, req.TenantID)
	ctx = logging.WithAPIKeyID(ctx, req.APIKeyID)
	ctx, span := g.tracer.Start(ctx, "admission.Admit")
	defer span.End()
	tracing.SetAdmissionAttributes(span, req.TenantID, req.APIKeyID, string(req.Resource), req.Amount)

	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "panic during admission",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			decision = limits.Deny(limits.ReasonInternalError)
			err = nil
		}
		g.finish(ctx, span, req, at, start, decision, err)
	}()

	return g.admit(ctx, req, at)
}

func (g *Gateway) admit(ctx context.Context, req Request, at time.Time) (limits.Decision, error) {
	if !req.Resource.Valid() || req.Amount < 0 || req.Amount > MaxAmount {
		g.logger.WarnContext(ctx, "rejecting malformed admission request",
			"resource", req.Resource,
			"amount", req.Amount,
		)
		return limits.Deny(limits.ReasonInternalError), nil
	}

	tenant, key, err := directory.Authorize(ctx, g.dir, req.TenantID, req.APIKeyID, at)
	if err != nil {
		if errors.Is(err, limits.ErrKeyInvalid) {
			g.logger.DebugContext(ctx, "api key rejected", "error", err)
			return limits.Deny(limits.ReasonKeyInvalid), nil
		}
		g.logger.ErrorContext(ctx, "directory lookup failed", "error", err)
		return limits.Deny(limits.ReasonInternalError), nil
	}

	var failOpen bool

	// Rate limit: peek only. The commit waits for the quota stage.
	check, err := withStoreTimeout(ctx, g.storeTimeout, func(ctx context.Context) (*ratelimit.CheckResult, error) {
		return g.limiter.Check(ctx, key)
	})
	res := g.failure.Enforce(ctx, enforcement.StageRateLimit, err)
	if !res.Allowed {
		return limits.Deny(res.Reason), res.Err
	}
	var reservation *ratelimit.Reservation
	switch {
	case res.FailOpen():
		failOpen = true
	case !check.Allowed:
		return check.Decision(), nil
	default:
		reservation = check.Reservation
	}

	// Quota: check and consume.
	decision, err := withStoreTimeout(ctx, g.storeTimeout, func(ctx context.Context) (limits.Decision, error) {
		return g.quota.CheckAndConsume(ctx, tenant, req.Resource, req.Amount)
	})
	res = g.failure.Enforce(ctx, enforcement.StageQuota, err)
	if !res.Allowed {
		return limits.Deny(res.Reason), res.Err
	}
	consumed := err == nil
	if res.FailOpen() {
		decision = limits.Admit()
		failOpen = true
	} else if !decision.Admitted {
		return decision, nil
	}

	if reservation != nil {
		_, err := withStoreTimeout(ctx, g.storeTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.limiter.Commit(ctx, reservation)
		})
		if err != nil {
			res := g.failure.Enforce(ctx, enforcement.StageRateLimit, err)
			if !res.FailOpen() {
				if consumed {
					g.refund(ctx, tenant, req, at)
				}
				return limits.Deny(limits.ReasonInternalError), res.Err
			}
			failOpen = true
		}
	}

	decision.FailOpen = decision.FailOpen || failOpen
	return decision, nil
}

// refund returns consumed quota after a later stage failed. It runs on a
// context detached from the caller so a cancelled request still compensates.
func (g *Gateway) refund(ctx context.Context, tenant *limits.Tenant, req Request, at time.Time) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.storeTimeout)
	defer cancel()

	if err := g.quota.Refund(rctx, tenant, req.Resource, req.Amount, at); err != nil {
		g.logger.ErrorContext(ctx, "failed to refund quota after rate limit commit failure",
			"resource", req.Resource,
			"amount", req.Amount,
			"error", err,
		)
	}
}

func (g *Gateway) finish(ctx context.Context, span trace.Span, req Request, at, start time.Time, d limits.Decision, err error) {
	elapsed := time.Since(start)

	g.metrics.RecordAdmission(req.Resource, d)
	g.metrics.RecordAdmitDuration(d.Admitted, elapsed.Seconds())

	tracing.SetDecisionAttributes(span, d.Admitted, string(d.Reason), d.Overage, d.FailOpen)
	tracing.SetWindowAttribute(span, string(d.Window))
	tracing.SetDurationAttribute(span, elapsed.Milliseconds())
	if err != nil {
		tracing.SetErrorAttributes(span, err, "admission")
	}

	g.logger.DebugContext(ctx, "admission decided",
		"resource", req.Resource,
		"amount", req.Amount,
		"decision", d.String(),
		"fail_open", d.FailOpen,
		"duration", elapsed,
	)

	if g.recorder != nil {
		g.recorder.Record(usage.NewEvent(req.TenantID, req.APIKeyID, req.Resource, req.Amount, at, d))
	}
}

// Usage returns the advisory current-month usage of a tenant.
func (g *Gateway) Usage(ctx context.Context, tenantID string) (*quota.Report, error) {
	tenant, err := g.dir.Tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return withStoreTimeout(ctx, g.storeTimeout, func(ctx context.Context) (*quota.Report, error) {
		return g.quota.Usage(ctx, tenant)
	})
}

// RateStatus returns the current counts of an API key's rate windows.
func (g *Gateway) RateStatus(ctx context.Context, apiKeyID string) (map[limits.WindowKind]int64, error) {
	key, err := g.dir.APIKey(ctx, apiKeyID)
	if err != nil {
		return nil, err
	}
	return withStoreTimeout(ctx, g.storeTimeout, func(ctx context.Context) (map[limits.WindowKind]int64, error) {
		return g.limiter.Status(ctx, key)
	})
}

// Ping checks that the counter stores are reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.store.Ping(ctx); err != nil {
		return err
	}
	if g.quotaStore != g.store {
		return g.quotaStore.Ping(ctx)
	}
	return nil
}

// withStoreTimeout runs fn under the store timeout. A stage that runs out of
// time is reported as a store outage; cancellation by the caller is not.
func withStoreTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(sctx)
	if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && !limits.IsStoreUnavailable(err) {
		err = limits.Unavailable(fmt.Errorf("store did not answer within %s: %w", timeout, err))
	}
	return v, err
}
