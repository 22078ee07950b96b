// Turnstile is a usage metering and quota enforcement engine.
//
// It admits or denies tenant-scoped API calls against per-key rate limits
// and per-tenant monthly quotas, and records every decision as a usage event.
//
// Usage:
//
//	# Start the admission API with default configuration
//	turnstile run
//
//	# Start with a custom configuration file
//	turnstile run --config /etc/turnstile/config.yaml
//
//	# Check a configuration file without starting
//	turnstile validate --config config.yaml
//
//	# Query recorded usage events
//	turnstile events query --tenant acme --since 2026-03-01T00:00:00Z
//
//	# Inspect live counters
//	turnstile counters peek --tenant acme --key key-1
package main

func main() {
	Execute()
}
