package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "TURNSTILE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of Default(), then validated.
// The configuration is not modified by environment variables; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults without validating.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TURNSTILE_SECTION_FIELD (e.g., TURNSTILE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file on top of the defaults
//  2. Apply environment variable overrides
//  3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envBinding binds one environment variable to a configuration field.
type envBinding struct {
	name string
	set  func(cfg *Config, val string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		*field(cfg) = val
		return nil
	}
}

func dur(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		i, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		*field(cfg) = i
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}
}

func float(field func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, val string) error {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		*field(cfg) = f
		return nil
	}
}

// envBindings lists the supported overrides. Secrets such as the Redis
// password are expected to arrive this way rather than from the file.
var envBindings = []envBinding{
	{"SERVER_LISTEN_ADDRESS", str(func(c *Config) *string { return &c.Server.ListenAddress })},
	{"SERVER_READ_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Server.ReadTimeout })},
	{"SERVER_WRITE_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Server.WriteTimeout })},
	{"SERVER_SHUTDOWN_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
	{"SERVER_TLS_ENABLED", boolean(func(c *Config) *bool { return &c.Server.TLS.Enabled })},
	{"SERVER_TLS_CERT_FILE", str(func(c *Config) *string { return &c.Server.TLS.CertFile })},
	{"SERVER_TLS_KEY_FILE", str(func(c *Config) *string { return &c.Server.TLS.KeyFile })},
	{"SERVER_TLS_CLIENT_CA_FILE", str(func(c *Config) *string { return &c.Server.TLS.ClientCAFile })},
	{"SERVER_AUTH_ENABLED", boolean(func(c *Config) *bool { return &c.Server.Auth.Enabled })},

	{"LIMITS_STORE_TIMEOUT", dur(func(c *Config) *time.Duration { return &c.Limits.StoreTimeout })},
	{"LIMITS_FAILURE_POLICY_RATE_LIMIT", str(func(c *Config) *string { return &c.Limits.FailurePolicy.RateLimit })},
	{"LIMITS_FAILURE_POLICY_QUOTA", str(func(c *Config) *string { return &c.Limits.FailurePolicy.Quota })},
	{"LIMITS_ALERT_THRESHOLD", float(func(c *Config) *float64 { return &c.Limits.AlertThreshold })},
	{"LIMITS_STORAGE_BACKEND", str(func(c *Config) *string { return &c.Limits.Storage.Backend })},
	{"LIMITS_STORAGE_SQLITE_PATH", str(func(c *Config) *string { return &c.Limits.Storage.SQLite.Path })},
	{"LIMITS_STORAGE_REDIS_ADDR", str(func(c *Config) *string { return &c.Limits.Storage.Redis.Addr })},
	{"LIMITS_STORAGE_REDIS_PASSWORD", str(func(c *Config) *string { return &c.Limits.Storage.Redis.Password })},
	{"LIMITS_STORAGE_REDIS_DB", integer(func(c *Config) *int { return &c.Limits.Storage.Redis.DB })},

	{"USAGE_STORAGE_BACKEND", str(func(c *Config) *string { return &c.Usage.Storage.Backend })},
	{"USAGE_STORAGE_SQLITE_PATH", str(func(c *Config) *string { return &c.Usage.Storage.SQLite.Path })},
	{"USAGE_RECORDER_QUEUE_SIZE", integer(func(c *Config) *int { return &c.Usage.Recorder.QueueSize })},
	{"USAGE_RECORDER_OVERFLOW", str(func(c *Config) *string { return &c.Usage.Recorder.Overflow })},
	{"USAGE_RETENTION_DAYS", integer(func(c *Config) *int { return &c.Usage.Retention.Days })},
	{"USAGE_RETENTION_PRUNE_SCHEDULE", str(func(c *Config) *string { return &c.Usage.Retention.PruneSchedule })},

	{"TELEMETRY_LOGGING_LEVEL", str(func(c *Config) *string { return &c.Telemetry.Logging.Level })},
	{"TELEMETRY_LOGGING_FORMAT", str(func(c *Config) *string { return &c.Telemetry.Logging.Format })},
	{"TELEMETRY_METRICS_ENABLED", boolean(func(c *Config) *bool { return &c.Telemetry.Metrics.Enabled })},
	{"TELEMETRY_TRACING_ENABLED", boolean(func(c *Config) *bool { return &c.Telemetry.Tracing.Enabled })},
	{"TELEMETRY_TRACING_ENDPOINT", str(func(c *Config) *string { return &c.Telemetry.Tracing.Endpoint })},
	{"TELEMETRY_TRACING_SAMPLE_RATIO", float(func(c *Config) *float64 { return &c.Telemetry.Tracing.SampleRatio })},
}

// EnvOverrideNames returns the supported environment variable names.
func EnvOverrideNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = EnvPrefix + b.name
	}
	return names
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Malformed values are reported rather than ignored.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var bad []string
	for _, b := range envBindings {
		val, ok := lookup(EnvPrefix + b.name)
		if !ok || val == "" {
			continue
		}
		if err := b.set(cfg, val); err != nil {
			bad = append(bad, fmt.Sprintf("%s%s=%q: %v", EnvPrefix, b.name, val, err))
		}
	}
	if len(bad) > 0 {
		return errors.New(strings.Join(bad, "; "))
	}
	return nil
}
