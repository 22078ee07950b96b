// Package engine assembles a running turnstile instance from configuration.
//
// New opens the counter store and the usage event storage selected by the
// configuration, builds the tier table and the key directory, and composes
// them behind an admission gateway with the usage recorder, the retention
// pruner, metrics, health checks and tracing:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//	if err != nil {
//		return err
//	}
//	eng, err := engine.New(cfg, engine.WithVersion(version))
//	if err != nil {
//		return err
//	}
//	defer eng.Close(context.Background())
//
//	srv, err := eng.Server(commit, buildTime)
//
// Apply installs the tiers, tenants and API keys of a reloaded configuration
// without restarting. Backend and telemetry settings are read once by New.
package engine
