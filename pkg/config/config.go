package config

import "time"

// Config is the root configuration structure for turnstile.
// It contains the API server, the metering engine, usage event storage and
// telemetry settings.
type Config struct {
	// Server contains HTTP API server configuration including listen address,
	// timeouts, and TLS.
	Server ServerConfig `yaml:"server"`

	// Limits contains the tier table, tenants, API keys, failure policy and
	// counter store configuration.
	Limits LimitsConfig `yaml:"limits"`

	// Usage contains usage event recording, storage and retention configuration.
	Usage UsageConfig `yaml:"usage"`

	// Telemetry contains configuration for observability including logging,
	// metrics, tracing and health checks.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for in-flight requests
	// and the recorder to drain during shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes is the maximum size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes is the maximum size of an admission request body.
	// Default: 65536
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// TLS contains TLS configuration for the API server.
	TLS TLSConfig `yaml:"tls"`

	// Auth contains caller authentication for the /v1 API.
	Auth AuthConfig `yaml:"auth"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	// Enabled controls whether TLS is enabled.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the TLS certificate file.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the TLS private key file.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum TLS version: "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the certificate files are checked for
	// changes. Renewed certificates are served without a restart.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// ClientCAFile enables mutual TLS: client certificates are verified
	// against the CAs in this PEM file.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuth is "require" or "verify_if_given". Used with ClientCAFile.
	// Default: "require"
	ClientAuth string `yaml:"client_auth"`
}

// AuthConfig controls caller authentication on the /v1 API.
// Health and metrics endpoints are never authenticated.
type AuthConfig struct {
	// Enabled requires every /v1 request to present a caller token or a
	// verified client certificate.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Callers lists the services allowed to call the API.
	Callers []CallerConfig `yaml:"callers"`
}

// CallerConfig is one service allowed to call the API.
type CallerConfig struct {
	// Name identifies the caller in logs.
	Name string `yaml:"name"`

	// Token is the bearer token. Prefer TokenEnv to keep it out of the file.
	Token string `yaml:"token"`

	// TokenEnv names an environment variable holding the token.
	TokenEnv string `yaml:"token_env"`

	// TokenFile is a file holding the token, such as a mounted secret.
	// It must not be readable by group or others.
	TokenFile string `yaml:"token_file"`

	// Disabled rejects the caller's token without removing it.
	Disabled bool `yaml:"disabled"`
}

// LimitsConfig contains the metering engine configuration.
type LimitsConfig struct {
	// Tiers overrides rows of the built-in tier table. Keys are tier names
	// ("free", "starter", "professional", "enterprise" or a custom tier).
	// A listed tier replaces the built-in row field by field.
	Tiers map[string]TierConfig `yaml:"tiers"`

	// Tenants lists the organization accounts.
	Tenants []TenantConfig `yaml:"tenants"`

	// APIKeys lists the API keys of all tenants.
	APIKeys []APIKeyConfig `yaml:"api_keys"`

	// FailurePolicy selects the reaction to counter store outages per stage.
	FailurePolicy FailurePolicyConfig `yaml:"failure_policy"`

	// CounterTTLs are the counter time to live per window.
	CounterTTLs CounterTTLConfig `yaml:"counter_ttls"`

	// StoreTimeout bounds each counter store stage of an admission.
	// Default: 200ms
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// AlertThreshold is the usage share reported as an alert by the usage
	// endpoint (0.0-1.0).
	// Default: 0.8
	AlertThreshold float64 `yaml:"alert_threshold"`

	// Storage selects and configures the counter store.
	Storage LimitsStorageConfig `yaml:"storage"`
}

// TierConfig is one row of the tier table.
type TierConfig struct {
	// Limits are the monthly limits per resource type. -1 means unlimited.
	Limits map[string]int64 `yaml:"limits"`

	// Overage is the race-overage policy: "bill" or "deny".
	Overage string `yaml:"overage"`

	// RateLimits are the default rate ceilings for keys of this tier.
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
}

// RateLimitsConfig contains per-window request ceilings. Unset ceilings
// keep the built-in tier value; -1 means unlimited, 0 always denies.
type RateLimitsConfig struct {
	PerMinute *int64 `yaml:"per_minute"`
	PerHour   *int64 `yaml:"per_hour"`
	PerDay    *int64 `yaml:"per_day"`
}

// TenantConfig describes one tenant.
type TenantConfig struct {
	// ID is the tenant identifier.
	ID string `yaml:"id"`

	// Name is a display name.
	Name string `yaml:"name"`

	// Tier is the subscription tier.
	Tier string `yaml:"tier"`

	// Limits overrides the tier's monthly limits for individual resources.
	Limits map[string]int64 `yaml:"limits"`
}

// APIKeyConfig describes one API key.
type APIKeyConfig struct {
	// ID is the key identifier.
	ID string `yaml:"id"`

	// TenantID is the owning tenant.
	TenantID string `yaml:"tenant_id"`

	// Type is the permission class: "read_only", "read_write" or "admin".
	// Default: "read_write"
	Type string `yaml:"type"`

	// PerMinute, PerHour and PerDay override the tier's rate ceilings.
	// Unset ceilings inherit the tier value; -1 means unlimited, 0 always denies.
	PerMinute *int64 `yaml:"per_minute"`
	PerHour   *int64 `yaml:"per_hour"`
	PerDay    *int64 `yaml:"per_day"`

	// Active is false for revoked or suspended keys.
	// Default: true
	Active *bool `yaml:"active"`

	// ExpiresAt is the RFC 3339 expiry instant. Empty never expires.
	ExpiresAt string `yaml:"expires_at"`
}

// IsActive reports the effective active flag.
func (k APIKeyConfig) IsActive() bool {
	return k.Active == nil || *k.Active
}

// FailurePolicyConfig contains the per-stage reaction to store outages.
type FailurePolicyConfig struct {
	// RateLimit is "open" or "closed".
	// Default: "open"
	RateLimit string `yaml:"rate_limit"`

	// Quota is "open" or "closed".
	// Default: "closed"
	Quota string `yaml:"quota"`
}

// CounterTTLConfig contains counter TTLs per window kind.
type CounterTTLConfig struct {
	// Default: 2m
	Minute time.Duration `yaml:"minute"`

	// Default: 2h
	Hour time.Duration `yaml:"hour"`

	// Default: 48h
	Day time.Duration `yaml:"day"`

	// Default: 960h (40 days)
	Month time.Duration `yaml:"month"`
}

// LimitsStorageConfig contains counter store configuration.
type LimitsStorageConfig struct {
	// Backend is the counter store: "memory", "sqlite" or "redis".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Memory contains memory store configuration.
	Memory LimitsMemoryConfig `yaml:"memory"`

	// SQLite contains SQLite store configuration.
	SQLite LimitsSQLiteConfig `yaml:"sqlite"`

	// Redis contains Redis store configuration.
	Redis RedisConfig `yaml:"redis"`
}

// LimitsMemoryConfig contains in-memory counter store configuration.
type LimitsMemoryConfig struct {
	// SweepInterval is how often expired counters are removed.
	// Default: 1m
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LimitsSQLiteConfig contains SQLite counter store configuration.
type LimitsSQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/counters.db"
	Path string `yaml:"path"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RedisConfig contains Redis counter store configuration.
type RedisConfig struct {
	// Addr is the Redis address (host:port).
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is the AUTH password.
	// This should typically be loaded from an environment variable.
	Password string `yaml:"password"`

	// DB is the database number.
	DB int `yaml:"db"`

	// KeyPrefix is prepended to every counter key.
	// Default: "turnstile:counter:"
	KeyPrefix string `yaml:"key_prefix"`

	// PoolSize is the maximum number of connections. 0 uses the client default.
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds connection establishment.
	// Default: 2s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout and WriteTimeout bound single commands.
	// Default: 500ms
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UsageConfig contains usage event configuration.
type UsageConfig struct {
	// Recorder contains asynchronous recorder configuration.
	Recorder RecorderConfig `yaml:"recorder"`

	// Storage selects and configures the event storage.
	Storage UsageStorageConfig `yaml:"storage"`

	// Retention contains event retention and counter sweep configuration.
	Retention RetentionConfig `yaml:"retention"`

	// Query contains event query limits.
	Query QueryConfig `yaml:"query"`

	// Export contains event export configuration.
	Export ExportConfig `yaml:"export"`
}

// RecorderConfig contains usage recorder configuration.
type RecorderConfig struct {
	// QueueSize is the capacity of the in-memory event queue.
	// Default: 1000
	QueueSize int `yaml:"queue_size"`

	// Overflow is the full-queue policy: "drop_oldest" or "block".
	// Default: "drop_oldest"
	Overflow string `yaml:"overflow"`

	// WriteTimeout bounds a single storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxRetries is the number of retries after a failed write.
	// Default: 3
	MaxRetries uint `yaml:"max_retries"`

	// RetryBuffer is the capacity of the buffer of events whose retries
	// were exhausted.
	// Default: 1000
	RetryBuffer int `yaml:"retry_buffer"`

	// FlushInterval is how often the retry buffer is written again.
	// Default: 30s
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// UsageStorageConfig contains event storage configuration.
type UsageStorageConfig struct {
	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite event storage configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig contains SQLite event storage configuration.
type SQLiteConfig struct {
	// Path is the file path for the SQLite database.
	// Default: "data/usage.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open database connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle database connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains retention policy configuration.
type RetentionConfig struct {
	// Days is the number of days to retain usage events.
	// 0 means keep events forever (no pruning).
	// Default: 400
	Days int `yaml:"days"`

	// PruneSchedule is a cron expression for scheduling pruning.
	// Default: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string `yaml:"prune_schedule"`

	// CounterSweepSchedule is a cron expression for removing expired
	// counters. Empty disables sweeping.
	// Default: "*/15 * * * *"
	CounterSweepSchedule string `yaml:"counter_sweep_schedule"`

	// ArchiveBeforeDelete exports events to JSON before deletion.
	// Default: false
	ArchiveBeforeDelete bool `yaml:"archive_before_delete"`

	// ArchivePath is the directory to store archived events.
	// Default: "data/archives/"
	ArchivePath string `yaml:"archive_path"`

	// MaxEvents is the maximum number of events to keep. 0 means unlimited.
	MaxEvents int64 `yaml:"max_events"`
}

// QueryConfig contains event query configuration.
type QueryConfig struct {
	// DefaultLimit is the number of events returned when no limit is given.
	// Default: 100
	DefaultLimit int `yaml:"default_limit"`

	// MaxLimit is the maximum number of events a single query returns.
	// Default: 10000
	MaxLimit int `yaml:"max_limit"`

	// Timeout is the query execution timeout.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// ExportConfig contains event export configuration.
type ExportConfig struct {
	// JSONPretty enables pretty-printing for JSON exports.
	// Default: false
	JSONPretty bool `yaml:"json_pretty"`

	// CSVIncludeHeader includes a header row in CSV exports.
	// Default: true
	CSVIncludeHeader bool `yaml:"csv_include_header"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource adds source file and line number to log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables redaction of secrets and personal data in log output.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns are extra redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom PII redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix of HTTP, tenant and store metrics.
	// Default: "turnstile"
	Namespace string `yaml:"namespace"`

	// RequestDurationBuckets defines histogram buckets for HTTP request
	// duration (seconds).
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`

	// MaxTenantSeries caps the number of tenants with their own series.
	// Default: 1000
	MaxTenantSeries int `yaml:"max_tenant_series"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample for the ratio sampler.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Exporter is the trace exporter. Only "otlp" is supported.
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name reported in traces.
	// Default: "turnstile"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// VersionPath is the path for the version information endpoint.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
