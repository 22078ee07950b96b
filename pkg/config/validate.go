package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/enforcement"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateUsage(&cfg.Usage)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("must be host:port: %v", err),
		})
	}
	errs = append(errs, positiveDuration("server.read_timeout", cfg.ReadTimeout)...)
	errs = append(errs, positiveDuration("server.write_timeout", cfg.WriteTimeout)...)
	errs = append(errs, positiveDuration("server.shutdown_timeout", cfg.ShutdownTimeout)...)

	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must not be negative"})
	}

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "required when TLS is enabled"})
		}
		switch cfg.TLS.MinVersion {
		case "1.2", "1.3":
		default:
			errs = append(errs, FieldError{Field: "server.tls.min_version", Message: fmt.Sprintf("must be 1.2 or 1.3, got %q", cfg.TLS.MinVersion)})
		}
		switch cfg.TLS.ClientAuth {
		case "require", "verify_if_given":
		default:
			errs = append(errs, FieldError{Field: "server.tls.client_auth", Message: fmt.Sprintf("must be require or verify_if_given, got %q", cfg.TLS.ClientAuth)})
		}
		errs = append(errs, positiveDuration("server.tls.reload_interval", cfg.TLS.ReloadInterval)...)
	}

	errs = append(errs, validateAuth(&cfg.Auth)...)

	return errs
}

func validateAuth(cfg *AuthConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled && len(cfg.Callers) == 0 {
		errs = append(errs, FieldError{Field: "server.auth.callers", Message: "at least one caller is required when auth is enabled"})
	}

	names := make(map[string]bool, len(cfg.Callers))
	for i, c := range cfg.Callers {
		prefix := fmt.Sprintf("server.auth.callers[%d]", i)
		if c.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "cannot be empty"})
		} else if names[c.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate caller %q", c.Name)})
		}
		names[c.Name] = true

		sources := 0
		for _, v := range []string{c.Token, c.TokenEnv, c.TokenFile} {
			if v != "" {
				sources++
			}
		}
		if sources != 1 {
			errs = append(errs, FieldError{Field: prefix, Message: "exactly one of token, token_env and token_file is required"})
		}
		if c.Token != "" && len(c.Token) < MinCallerTokenLength {
			errs = append(errs, FieldError{Field: prefix + ".token", Message: fmt.Sprintf("must be at least %d characters", MinCallerTokenLength)})
		}
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	knownTiers := map[string]bool{}
	for tier := range limits.DefaultTierPolicies() {
		knownTiers[string(tier)] = true
	}

	for name, tier := range cfg.Tiers {
		prefix := fmt.Sprintf("limits.tiers.%s", name)
		knownTiers[name] = true

		errs = append(errs, validateResourceLimits(prefix+".limits", tier.Limits)...)
		if tier.Overage != "" && tier.Overage != string(limits.OverageBill) && tier.Overage != string(limits.OverageDeny) {
			errs = append(errs, FieldError{
				Field:   prefix + ".overage",
				Message: fmt.Sprintf("must be %q or %q", limits.OverageBill, limits.OverageDeny),
			})
		}
		rl := tier.RateLimits
		for field, v := range map[string]*int64{"per_minute": rl.PerMinute, "per_hour": rl.PerHour, "per_day": rl.PerDay} {
			if v != nil {
				errs = append(errs, validateCeiling(prefix+".rate_limits."+field, *v)...)
			}
		}
	}

	tenants := make(map[string]bool, len(cfg.Tenants))
	for i, t := range cfg.Tenants {
		prefix := fmt.Sprintf("limits.tenants[%d]", i)
		switch {
		case t.ID == "":
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "required"})
		case tenants[t.ID]:
			errs = append(errs, FieldError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate tenant %q", t.ID)})
		}
		tenants[t.ID] = true

		if !knownTiers[t.Tier] {
			errs = append(errs, FieldError{Field: prefix + ".tier", Message: fmt.Sprintf("unknown tier %q", t.Tier)})
		}
		errs = append(errs, validateResourceLimits(prefix+".limits", t.Limits)...)
	}

	keys := make(map[string]bool, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		prefix := fmt.Sprintf("limits.api_keys[%d]", i)
		switch {
		case k.ID == "":
			errs = append(errs, FieldError{Field: prefix + ".id", Message: "required"})
		case keys[k.ID]:
			errs = append(errs, FieldError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate api key %q", k.ID)})
		}
		keys[k.ID] = true

		if !tenants[k.TenantID] {
			errs = append(errs, FieldError{Field: prefix + ".tenant_id", Message: fmt.Sprintf("unknown tenant %q", k.TenantID)})
		}
		switch limits.KeyType(k.Type) {
		case limits.KeyReadOnly, limits.KeyReadWrite, limits.KeyAdmin:
		default:
			errs = append(errs, FieldError{Field: prefix + ".type", Message: fmt.Sprintf("invalid key type %q", k.Type)})
		}
		for field, v := range map[string]*int64{"per_minute": k.PerMinute, "per_hour": k.PerHour, "per_day": k.PerDay} {
			if v != nil {
				errs = append(errs, validateCeiling(prefix+"."+field, *v)...)
			}
		}
		if k.ExpiresAt != "" {
			if _, err := time.Parse(time.RFC3339, k.ExpiresAt); err != nil {
				errs = append(errs, FieldError{Field: prefix + ".expires_at", Message: "must be an RFC 3339 timestamp"})
			}
		}
	}

	if _, err := enforcement.ParseAction(cfg.FailurePolicy.RateLimit); err != nil {
		errs = append(errs, FieldError{Field: "limits.failure_policy.rate_limit", Message: err.Error()})
	}
	if _, err := enforcement.ParseAction(cfg.FailurePolicy.Quota); err != nil {
		errs = append(errs, FieldError{Field: "limits.failure_policy.quota", Message: err.Error()})
	}

	errs = append(errs, positiveDuration("limits.store_timeout", cfg.StoreTimeout)...)
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold > 1 {
		errs = append(errs, FieldError{Field: "limits.alert_threshold", Message: "must be in (0, 1]"})
	}

	// A TTL shorter than its window would let a counter vanish while still current.
	ttls := []struct {
		field  string
		ttl    time.Duration
		window time.Duration
	}{
		{"limits.counter_ttls.minute", cfg.CounterTTLs.Minute, time.Minute},
		{"limits.counter_ttls.hour", cfg.CounterTTLs.Hour, time.Hour},
		{"limits.counter_ttls.day", cfg.CounterTTLs.Day, 24 * time.Hour},
		{"limits.counter_ttls.month", cfg.CounterTTLs.Month, 31 * 24 * time.Hour},
	}
	for _, t := range ttls {
		if t.ttl < t.window {
			errs = append(errs, FieldError{Field: t.field, Message: fmt.Sprintf("must be at least %s", t.window)})
		}
	}

	errs = append(errs, validateLimitsStorage(&cfg.Storage)...)

	return errs
}

func validateResourceLimits(prefix string, values map[string]int64) []FieldError {
	var errs []FieldError
	for resource, v := range values {
		if !limits.ResourceType(resource).Valid() {
			errs = append(errs, FieldError{Field: prefix + "." + resource, Message: "unknown resource type"})
			continue
		}
		if v < limits.Unlimited {
			errs = append(errs, FieldError{Field: prefix + "." + resource, Message: "must be -1 (unlimited) or non-negative"})
		}
	}
	return errs
}

func validateCeiling(field string, v int64) []FieldError {
	if v < limits.Unlimited {
		return []FieldError{{Field: field, Message: "must be -1 (unlimited) or non-negative"}}
	}
	return nil
}

func validateLimitsStorage(cfg *LimitsStorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "limits.storage.sqlite.path", Message: "required for the sqlite backend"})
		}
	case "redis":
		if _, _, err := net.SplitHostPort(cfg.Redis.Addr); err != nil {
			errs = append(errs, FieldError{Field: "limits.storage.redis.addr", Message: fmt.Sprintf("must be host:port: %v", err)})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "limits.storage.redis.db", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.storage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory, sqlite or redis)", cfg.Backend),
		})
	}

	return errs
}

func validateUsage(cfg *UsageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Recorder.Overflow {
	case "drop_oldest", "block":
	default:
		errs = append(errs, FieldError{
			Field:   "usage.recorder.overflow",
			Message: fmt.Sprintf("invalid policy %q (must be drop_oldest or block)", cfg.Recorder.Overflow),
		})
	}
	if cfg.Recorder.QueueSize < 1 {
		errs = append(errs, FieldError{Field: "usage.recorder.queue_size", Message: "must be at least 1"})
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "usage.storage.sqlite.path", Message: "required for the sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "usage.storage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or sqlite)", cfg.Storage.Backend),
		})
	}

	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "usage.retention.days", Message: "must not be negative"})
	}
	errs = append(errs, validateSchedule("usage.retention.prune_schedule", cfg.Retention.PruneSchedule)...)
	if cfg.Retention.CounterSweepSchedule != "" {
		errs = append(errs, validateSchedule("usage.retention.counter_sweep_schedule", cfg.Retention.CounterSweepSchedule)...)
	}
	if cfg.Retention.ArchiveBeforeDelete && cfg.Retention.ArchivePath == "" {
		errs = append(errs, FieldError{Field: "usage.retention.archive_path", Message: "required when archive_before_delete is set"})
	}

	if cfg.Query.DefaultLimit > cfg.Query.MaxLimit {
		errs = append(errs, FieldError{Field: "usage.query.default_limit", Message: "must not exceed max_limit"})
	}

	return errs
}

func validateSchedule(field, spec string) []FieldError {
	if _, err := cron.ParseStandard(spec); err != nil {
		return []FieldError{{Field: field, Message: fmt.Sprintf("invalid cron expression: %v", err)}}
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("invalid level %q", cfg.Logging.Level)})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("invalid format %q", cfg.Logging.Format)})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i), Message: "required"})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("invalid sampler %q", cfg.Tracing.Sampler)})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be in [0, 1]"})
		}
		if cfg.Tracing.Exporter != "otlp" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.exporter", Message: "only otlp is supported"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "required when tracing is enabled"})
		}
	}

	errs = append(errs, positiveDuration("telemetry.health.check_timeout", cfg.Health.CheckTimeout)...)

	return errs
}

func positiveDuration(field string, d time.Duration) []FieldError {
	if d <= 0 {
		return []FieldError{{Field: field, Message: "must be positive"}}
	}
	return nil
}
