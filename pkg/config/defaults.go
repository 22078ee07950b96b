package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = int64(65536)
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute
	DefaultTLSClientAuth   = "require"
	MinCallerTokenLength   = 16

	// Limits defaults
	DefaultRateLimitFailure   = "open"
	DefaultQuotaFailure       = "closed"
	DefaultStoreTimeout       = 200 * time.Millisecond
	DefaultAlertThreshold     = 0.8
	DefaultMinuteTTL          = 2 * time.Minute
	DefaultHourTTL            = 2 * time.Hour
	DefaultDayTTL             = 48 * time.Hour
	DefaultMonthTTL           = 40 * 24 * time.Hour
	DefaultCounterBackend     = "sqlite"
	DefaultCounterSQLitePath  = "data/counters.db"
	DefaultCheckpointInterval = 5 * time.Minute
	DefaultBusyTimeout        = 5 * time.Second
	DefaultSweepInterval      = time.Minute
	DefaultRedisAddr          = "localhost:6379"
	DefaultRedisKeyPrefix     = "turnstile:counter:"
	DefaultRedisDialTimeout   = 2 * time.Second
	DefaultRedisIOTimeout     = 500 * time.Millisecond
	DefaultAPIKeyType         = "read_write"

	// Usage defaults
	DefaultRecorderQueueSize     = 1000
	DefaultRecorderOverflow      = "drop_oldest"
	DefaultRecorderWriteTimeout  = 5 * time.Second
	DefaultRecorderMaxRetries    = uint(3)
	DefaultRecorderRetryBuffer   = 1000
	DefaultRecorderFlushInterval = 30 * time.Second
	DefaultUsageBackend          = "sqlite"
	DefaultUsageSQLitePath       = "data/usage.db"
	DefaultUsageMaxOpenConns     = 10
	DefaultUsageMaxIdleConns     = 5
	DefaultRetentionDays         = 400
	DefaultPruneSchedule         = "0 3 * * *"
	DefaultCounterSweepSchedule  = "*/15 * * * *"
	DefaultArchivePath           = "data/archives/"
	DefaultQueryDefaultLimit     = 100
	DefaultQueryMaxLimit         = 10000
	DefaultQueryTimeout          = 30 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "turnstile"
	DefaultMaxTenantSeries    = 1000
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingExporter    = "otlp"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultServiceName        = "turnstile"
	DefaultOTLPTimeout        = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultVersionPath        = "/version"
	DefaultCheckTimeout       = 2 * time.Second
)

// Default returns a configuration with every default applied, including the
// boolean defaults that ApplyDefaults cannot infer from zero values.
// LoadConfig decodes YAML on top of it, so keys absent from the file keep
// these values.
func Default() *Config {
	cfg := &Config{}
	cfg.Usage.Storage.SQLite.WALMode = true
	cfg.Usage.Retention.Days = DefaultRetentionDays
	cfg.Usage.Retention.CounterSweepSchedule = DefaultCounterSweepSchedule
	cfg.Usage.Export.CSVIncludeHeader = true
	cfg.Telemetry.Logging.RedactPII = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Tracing.OTLP.Insecure = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLimitsDefaults(&cfg.Limits)
	applyUsageDefaults(&cfg.Usage)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.TLS.MinVersion == "" {
		s.TLS.MinVersion = DefaultTLSMinVersion
	}
	if s.TLS.ReloadInterval == 0 {
		s.TLS.ReloadInterval = DefaultTLSReload
	}
	if s.TLS.ClientAuth == "" {
		s.TLS.ClientAuth = DefaultTLSClientAuth
	}
}

func applyLimitsDefaults(l *LimitsConfig) {
	if l.FailurePolicy.RateLimit == "" {
		l.FailurePolicy.RateLimit = DefaultRateLimitFailure
	}
	if l.FailurePolicy.Quota == "" {
		l.FailurePolicy.Quota = DefaultQuotaFailure
	}
	if l.StoreTimeout == 0 {
		l.StoreTimeout = DefaultStoreTimeout
	}
	if l.AlertThreshold == 0 {
		l.AlertThreshold = DefaultAlertThreshold
	}

	ttl := &l.CounterTTLs
	if ttl.Minute == 0 {
		ttl.Minute = DefaultMinuteTTL
	}
	if ttl.Hour == 0 {
		ttl.Hour = DefaultHourTTL
	}
	if ttl.Day == 0 {
		ttl.Day = DefaultDayTTL
	}
	if ttl.Month == 0 {
		ttl.Month = DefaultMonthTTL
	}

	for i := range l.APIKeys {
		if l.APIKeys[i].Type == "" {
			l.APIKeys[i].Type = DefaultAPIKeyType
		}
	}

	st := &l.Storage
	if st.Backend == "" {
		st.Backend = DefaultCounterBackend
	}
	if st.Memory.SweepInterval == 0 {
		st.Memory.SweepInterval = DefaultSweepInterval
	}
	if st.SQLite.Path == "" {
		st.SQLite.Path = DefaultCounterSQLitePath
	}
	if st.SQLite.CheckpointInterval == 0 {
		st.SQLite.CheckpointInterval = DefaultCheckpointInterval
	}
	if st.SQLite.BusyTimeout == 0 {
		st.SQLite.BusyTimeout = DefaultBusyTimeout
	}
	if st.Redis.Addr == "" {
		st.Redis.Addr = DefaultRedisAddr
	}
	if st.Redis.KeyPrefix == "" {
		st.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if st.Redis.DialTimeout == 0 {
		st.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if st.Redis.ReadTimeout == 0 {
		st.Redis.ReadTimeout = DefaultRedisIOTimeout
	}
	if st.Redis.WriteTimeout == 0 {
		st.Redis.WriteTimeout = DefaultRedisIOTimeout
	}
}

func applyUsageDefaults(u *UsageConfig) {
	r := &u.Recorder
	if r.QueueSize == 0 {
		r.QueueSize = DefaultRecorderQueueSize
	}
	if r.Overflow == "" {
		r.Overflow = DefaultRecorderOverflow
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = DefaultRecorderWriteTimeout
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultRecorderMaxRetries
	}
	if r.RetryBuffer == 0 {
		r.RetryBuffer = DefaultRecorderRetryBuffer
	}
	if r.FlushInterval == 0 {
		r.FlushInterval = DefaultRecorderFlushInterval
	}

	s := &u.Storage
	if s.Backend == "" {
		s.Backend = DefaultUsageBackend
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = DefaultUsageSQLitePath
	}
	if s.SQLite.MaxOpenConns == 0 {
		s.SQLite.MaxOpenConns = DefaultUsageMaxOpenConns
	}
	if s.SQLite.MaxIdleConns == 0 {
		s.SQLite.MaxIdleConns = DefaultUsageMaxIdleConns
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = DefaultBusyTimeout
	}

	// Days and CounterSweepSchedule are defaulted in Default only: their zero
	// values disable pruning and sweeping.
	ret := &u.Retention
	if ret.PruneSchedule == "" {
		ret.PruneSchedule = DefaultPruneSchedule
	}
	if ret.ArchivePath == "" {
		ret.ArchivePath = DefaultArchivePath
	}

	q := &u.Query
	if q.DefaultLimit == 0 {
		q.DefaultLimit = DefaultQueryDefaultLimit
	}
	if q.MaxLimit == 0 {
		q.MaxLimit = DefaultQueryMaxLimit
	}
	if q.Timeout == 0 {
		q.Timeout = DefaultQueryTimeout
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.MaxTenantSeries == 0 {
		t.Metrics.MaxTenantSeries = DefaultMaxTenantSeries
	}

	tr := &t.Tracing
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.SampleRatio == 0 && tr.Sampler == "ratio" {
		tr.SampleRatio = DefaultTracingSampleRatio
	}
	if tr.Exporter == "" {
		tr.Exporter = DefaultTracingExporter
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultServiceName
	}
	if tr.OTLP.Timeout == 0 {
		tr.OTLP.Timeout = DefaultOTLPTimeout
	}

	h := &t.Health
	if h.LivenessPath == "" {
		h.LivenessPath = DefaultLivenessPath
	}
	if h.ReadinessPath == "" {
		h.ReadinessPath = DefaultReadinessPath
	}
	if h.VersionPath == "" {
		h.VersionPath = DefaultVersionPath
	}
	if h.CheckTimeout == 0 {
		h.CheckTimeout = DefaultCheckTimeout
	}
}
