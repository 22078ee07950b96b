package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/admission"
	"mercator-hq/turnstile/pkg/limits/directory"
	"mercator-hq/turnstile/pkg/limits/storage"
	"mercator-hq/turnstile/pkg/server"
	"mercator-hq/turnstile/pkg/telemetry/health"
	"mercator-hq/turnstile/pkg/telemetry/metrics"
	"mercator-hq/turnstile/pkg/telemetry/tracing"
	"mercator-hq/turnstile/pkg/usage"
	"mercator-hq/turnstile/pkg/usage/recorder"
	"mercator-hq/turnstile/pkg/usage/retention"
)

// Engine owns every long-lived component built from a configuration.
type Engine struct {
	Config    *config.Config
	Counters  storage.Store
	Directory *directory.Static
	Policies  *limits.PolicyTable
	Gateway   *admission.Gateway
	Events    usage.Storage
	Recorder  *recorder.Recorder
	Pruner    *retention.Pruner
	Metrics   *metrics.Collector
	Health    *health.Checker
	Tracer    *tracing.Tracer

	version string
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes New.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
	now      func() time.Time
	version  string
}

// WithRegistry registers metrics on registry instead of a new one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithClock overrides the clock of the gateway, stores and pruner.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithVersion sets the version reported by tracing and the version endpoint.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// New builds the engine described by cfg. cfg must already be validated.
// On error every component opened so far is closed.
func New(cfg *config.Config, opts ...Option) (_ *Engine, err error) {
	o := options{now: time.Now, version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		Config:  cfg,
		version: o.version,
		now:     o.now,
		logger:  slog.Default().With("component", "engine"),
	}
	defer func() {
		if err != nil {
			_ = e.Close(context.Background())
		}
	}()

	e.Tracer, err = tracing.New(&cfg.Telemetry.Tracing, o.version)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	metricsCfg := cfg.Telemetry.Metrics
	e.Metrics = metrics.NewCollector(&metricsCfg, o.registry)

	tiers := BuildPolicies(cfg.Limits)
	e.Policies = limits.NewPolicyTable(tiers)
	tenants, keys, err := BuildDirectory(cfg.Limits, tiers)
	if err != nil {
		return nil, err
	}
	e.Directory = directory.NewStatic(tenants, keys)

	ttls := CounterTTLs(cfg.Limits.CounterTTLs)
	e.Counters, err = NewCounterStore(cfg.Limits.Storage, ttls.For(limits.WindowMonth), o.now)
	if err != nil {
		return nil, err
	}

	e.Events, err = NewEventStorage(cfg.Usage.Storage)
	if err != nil {
		return nil, err
	}

	recCfg, err := RecorderConfig(cfg.Usage.Recorder)
	if err != nil {
		return nil, err
	}
	e.Recorder = recorder.NewRecorder(e.Events, recCfg, e.Metrics.Recorder())

	failure, err := FailurePolicy(cfg.Limits.FailurePolicy)
	if err != nil {
		return nil, err
	}
	e.Gateway, err = admission.New(admission.Config{
		Directory:      e.Directory,
		Store:          e.Counters,
		Policies:       e.Policies,
		Recorder:       e.Recorder,
		FailurePolicy:  failure,
		StoreTimeout:   cfg.Limits.StoreTimeout,
		TTLs:           ttls,
		AlertThreshold: cfg.Limits.AlertThreshold,
		Now:            o.now,
		Metrics:        e.Metrics.Limits(),
		Tracer:         e.Tracer.Tracer(),
	})
	if err != nil {
		return nil, err
	}

	e.Pruner = retention.NewPruner(e.Events, e.Counters, RetentionConfig(cfg.Usage.Retention, o.now))

	e.Health = health.New(cfg.Telemetry.Health.CheckTimeout)
	e.Health.RegisterCritical("counter_store", e.Metrics.InstrumentPing("counter_store", e.Gateway.Ping))
	e.Health.RegisterCheck("event_storage", e.Metrics.InstrumentPing("event_storage", e.Events.Ping))

	e.logger.Info("engine initialized",
		"counter_backend", cfg.Limits.Storage.Backend,
		"event_backend", cfg.Usage.Storage.Backend,
		"tenants", len(tenants),
		"api_keys", len(keys),
		"rate_limit_failure", failure.RateLimit,
		"quota_failure", failure.Quota,
	)

	return e, nil
}

// Start starts the retention scheduler. It stops when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	return e.Pruner.Start(ctx)
}

// Apply swaps the tier table, tenants and API keys of a reloaded
// configuration into the running engine. Storage, failure policy and
// telemetry settings require a restart and are ignored.
func (e *Engine) Apply(cfg *config.Config) error {
	tiers := BuildPolicies(cfg.Limits)
	tenants, keys, err := BuildDirectory(cfg.Limits, tiers)
	if err != nil {
		return err
	}

	e.Policies.Replace(tiers)
	e.Directory.Replace(tenants, keys)

	if cfg.Limits.Storage != e.Config.Limits.Storage || cfg.Usage.Storage != e.Config.Usage.Storage {
		e.logger.Warn("storage settings changed; restart to apply them")
	}

	e.logger.Info("limits configuration applied",
		"tiers", len(tiers),
		"tenants", len(tenants),
		"api_keys", len(keys),
	)
	return nil
}

// Server returns the HTTP API server for this engine.
func (e *Engine) Server(commit, buildTime string) (*server.Server, error) {
	cfg := e.Config
	return server.New(server.Options{
		Config:  cfg.Server,
		Gateway: e.Gateway,
		Events:  e.Events,
		Query:   cfg.Usage.Query,
		Export:  cfg.Usage.Export,
		Health:  e.Health,
		HealthPaths: health.Paths{
			Liveness:  cfg.Telemetry.Health.LivenessPath,
			Readiness: cfg.Telemetry.Health.ReadinessPath,
			Version:   cfg.Telemetry.Health.VersionPath,
		},
		Metrics:     e.metricsForServer(),
		MetricsPath: cfg.Telemetry.Metrics.Path,
		Tracer:      e.Tracer.Tracer(),
		Version:     e.version,
		Commit:      commit,
		BuildTime:   buildTime,
	})
}

func (e *Engine) metricsForServer() *metrics.Collector {
	if !e.Config.Telemetry.Metrics.Enabled {
		return nil
	}
	return e.Metrics
}

// Close stops the scheduler, drains the recorder and closes the stores and
// the tracer, in that order.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error

	if e.Pruner != nil {
		e.Pruner.Stop()
	}
	if e.Recorder != nil {
		if err := e.Recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: %w", err))
		}
	}
	if e.Events != nil {
		if err := e.Events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event storage: %w", err))
		}
	}
	if e.Counters != nil {
		if err := e.Counters.Close(); err != nil {
			errs = append(errs, fmt.Errorf("counter store: %w", err))
		}
	}
	if e.Tracer != nil {
		if err := e.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}

	return errors.Join(errs...)
}
