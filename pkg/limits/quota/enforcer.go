package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/storage"
)

// rollbackTimeout bounds the compensating decrement of a denied consumption.
const rollbackTimeout = time.Second

// Enforcer enforces per-tenant monthly resource quotas.
//
// The Enforcer is stateless between calls; all state lives in the counter
// store under a key derived from the first instant of the calendar month
// (UTC). A new month therefore starts from zero without a reset step.
//
// Limits come from the tier policy table, with per-tenant overrides. When a
// consumer loses the race against a concurrent consumer and pushes the
// counter past the limit, the tier's overage policy decides: paid tiers admit
// and flag the overage for billing, the free tier rolls the increment back
// and denies.
type Enforcer struct {
	store          storage.Store
	policies       *limits.PolicyTable
	monthTTL       time.Duration
	alertThreshold float64
	now            func() time.Time
	metrics        *limits.Metrics
	logger         *slog.Logger
}

// Config configures an Enforcer.
type Config struct {
	// Store holds the counters. Required.
	Store storage.Store

	// Policies is the tier policy table. Default: limits.DefaultPolicyTable().
	Policies *limits.PolicyTable

	// MonthTTL is the TTL of monthly counters.
	// Default: storage.DefaultTTLs()[limits.WindowMonth] (40 days)
	MonthTTL time.Duration

	// AlertThreshold is the share of the limit (0.0-1.0) at which Usage
	// reports an alert. 0 disables alerts.
	AlertThreshold float64

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time

	// Metrics records quota denials and overages. Optional.
	Metrics *limits.Metrics
}

// NewEnforcer creates a new quota enforcer with the given configuration.
func NewEnforcer(cfg Config) *Enforcer {
	if cfg.Policies == nil {
		cfg.Policies = limits.DefaultPolicyTable()
	}
	if cfg.MonthTTL == 0 {
		cfg.MonthTTL = storage.DefaultTTLs().For(limits.WindowMonth)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Enforcer{
		store:          cfg.Store,
		policies:       cfg.Policies,
		monthTTL:       cfg.MonthTTL,
		alertThreshold: cfg.AlertThreshold,
		now:            cfg.Now,
		metrics:        cfg.Metrics,
		logger:         slog.Default().With("component", "limits.quota"),
	}
}

// CheckAndConsume decides whether the tenant has amount of resource left
// this month and, if so, consumes it.
//
// Unlimited resources are admitted without touching any counter. A denial
// carries the limit and the usage observed ("current of limit used").
func (e *Enforcer) CheckAndConsume(ctx context.Context, tenant *limits.Tenant, resource limits.ResourceType, amount int64) (limits.Decision, error) {
	if tenant == nil {
		return limits.Decision{}, fmt.Errorf("%w: tenant cannot be nil", limits.ErrInvalidRequest)
	}
	if !resource.Valid() {
		return limits.Decision{}, fmt.Errorf("%w: unknown resource type %q", limits.ErrInvalidRequest, string(resource))
	}
	if amount <= 0 {
		return limits.Decision{}, fmt.Errorf("%w: amount must be positive, got %d", limits.ErrInvalidRequest, amount)
	}

	limit, policy, err := e.policies.LimitFor(tenant, resource)
	if err != nil {
		return limits.Decision{}, err
	}
	if limit < 0 {
		return limits.Admit(), nil
	}

	key := storage.QuotaKey(tenant.ID, resource, e.now())

	current, err := e.store.Peek(ctx, key)
	if err != nil {
		return limits.Decision{}, fmt.Errorf("quota check: %w", err)
	}
	// Written as a difference so that no amount can wrap the comparison.
	if amount > limit || current > limit-amount {
		e.metrics.RecordQuotaHit(tenant.Tier, resource)
		return e.deny(limit, current), nil
	}

	value, err := e.store.IncrementAndGet(ctx, key, amount)
	if err != nil {
		return limits.Decision{}, fmt.Errorf("quota consume: %w", err)
	}
	if value == amount {
		if err := e.store.Expire(ctx, key, e.monthTTL); err != nil {
			e.logger.Warn("failed to set quota counter ttl",
				"tenant_id", tenant.ID,
				"resource", resource,
				"error", err,
			)
		}
	}

	if value <= limit {
		return limits.Admit().WithUsage(limit, value), nil
	}

	// Lost the race against a concurrent consumer.
	if policy.Overage == limits.OverageDeny {
		if err := e.rollback(ctx, key, amount); err != nil {
			e.logger.Error("failed to roll back quota increment",
				"tenant_id", tenant.ID,
				"resource", resource,
				"amount", amount,
				"error", err,
			)
		}
		e.metrics.RecordQuotaHit(tenant.Tier, resource)
		return e.deny(limit, value-amount), nil
	}

	e.metrics.RecordOverage(tenant.Tier, resource)
	d := limits.Admit().WithUsage(limit, value)
	d.Overage = true
	return d, nil
}

// Refund returns amount to the tenant's counter for the month containing at.
// It is the compensation for a consumption whose admission was later abandoned.
func (e *Enforcer) Refund(ctx context.Context, tenant *limits.Tenant, resource limits.ResourceType, amount int64, at time.Time) error {
	limit, _, err := e.policies.LimitFor(tenant, resource)
	if err != nil {
		return err
	}
	if limit < 0 || amount <= 0 {
		return nil
	}
	if _, err := e.store.IncrementAndGet(ctx, storage.QuotaKey(tenant.ID, resource, at), -amount); err != nil {
		return fmt.Errorf("quota refund: %w", err)
	}
	return nil
}

// Usage reports the tenant's current-month usage for every resource.
// Values come from Peek and are advisory.
func (e *Enforcer) Usage(ctx context.Context, tenant *limits.Tenant) (*Report, error) {
	now := e.now()
	report := &Report{
		TenantID: tenant.ID,
		Tier:     tenant.Tier,
		Period:   limits.WindowMonth.Start(now),
		Usage:    make([]Status, 0, len(limits.ResourceTypes)),
	}

	for _, resource := range limits.ResourceTypes {
		limit, _, err := e.policies.LimitFor(tenant, resource)
		if err != nil {
			return nil, err
		}

		used, err := e.store.Peek(ctx, storage.QuotaKey(tenant.ID, resource, now))
		if err != nil {
			return nil, fmt.Errorf("quota usage (%s): %w", resource, err)
		}

		report.Usage = append(report.Usage, e.status(resource, limit, used, now))
	}

	return report, nil
}

func (e *Enforcer) status(resource limits.ResourceType, limit, used int64, now time.Time) Status {
	s := Status{
		Resource:  resource,
		Limit:     limit,
		Used:      used,
		Remaining: limits.Unlimited,
		ResetAt:   limits.WindowMonth.End(now),
	}
	if limit < 0 {
		return s
	}

	s.Remaining = max(limit-used, 0)
	s.Overage = max(used-limit, 0)
	if limit > 0 {
		s.Percentage = float64(used) / float64(limit)
	} else if used > 0 {
		s.Percentage = 1
	}
	if e.alertThreshold > 0 && s.Percentage >= e.alertThreshold {
		s.AlertTriggered = true
	}
	return s
}

// rollback undoes a consumption on a context detached from the stage
// deadline, which may already have expired when the increment landed.
func (e *Enforcer) rollback(ctx context.Context, key storage.Key, amount int64) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	_, err := e.store.IncrementAndGet(rctx, key, -amount)
	return err
}

func (e *Enforcer) deny(limit, current int64) limits.Decision {
	d := limits.Deny(limits.ReasonQuotaExceeded).WithUsage(limit, current)
	d.Window = limits.WindowMonth
	return d
}
