// Package config provides configuration management for turnstile.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("turnstile.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("turnstile.yaml")
//
// The file is decoded on top of Default(), so absent keys keep their
// defaults. Unknown keys are rejected.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TURNSTILE_SECTION_FIELD.
// For example:
//
//   - TURNSTILE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TURNSTILE_LIMITS_STORAGE_REDIS_PASSWORD overrides limits.storage.redis.password
//   - TURNSTILE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// EnvOverrideNames lists every supported variable. A malformed value fails
// the load instead of being ignored.
//
// # Global Configuration
//
// Initialize stores the loaded configuration as a process-wide instance read
// with GetConfig. ReloadConfig replaces it and runs the OnReload listeners.
// A Watcher calls ReloadConfig whenever the file changes on disk; a reload
// that fails validation leaves the previous configuration in place.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	limits:
//	  tenants:
//	    - id: acme
//	      tier: professional
//	  api_keys:
//	    - id: key-1
//	      tenant_id: acme
//	      per_minute: 120
//	  failure_policy:
//	    rate_limit: open
//	    quota: closed
//	  storage:
//	    backend: redis
//	    redis:
//	      addr: "redis:6379"
//
//	usage:
//	  retention:
//	    days: 90
//
//	telemetry:
//	  logging:
//	    level: debug
package config
