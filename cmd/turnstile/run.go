package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/engine"
	"mercator-hq/turnstile/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the admission API server",
	Long: `Start the admission API server with the specified configuration.

The server exposes POST /v1/admit, usage and event queries, Prometheus
metrics and health endpoints. Tiers, tenants and API keys are reloaded
when the configuration file changes.

Examples:
  # Start with default config
  turnstile run

  # Start with custom config
  turnstile run --config /etc/turnstile/config.yaml

  # Override listen address
  turnstile run --listen 0.0.0.0:8080

  # Validate config without starting server
  turnstile run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload tiers, tenants and keys when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	cfg := config.GetConfig()

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	logger.SetDefault()

	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	printBanner(out, cfg)

	eng, err := engine.New(cfg, engine.WithVersion(Version))
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := eng.Close(context.Background()); err != nil {
			slog.Error("engine shutdown failed", "error", err)
		}
	}()
	fmt.Fprintf(out, "✓ Counter store ready (%s)\n", cfg.Limits.Storage.Backend)
	fmt.Fprintf(out, "✓ Event storage ready (%s)\n", cfg.Usage.Storage.Backend)

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to start retention scheduler: %w", err))
	}
	if next := eng.Pruner.NextPruning(); next != nil {
		slog.Debug("retention scheduler started", "next_run", next)
	}

	if runFlags.watch {
		stopWatch, err := watchConfig(ctx, eng, logger)
		if err != nil {
			slog.Warn("configuration hot reload disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	srv, err := eng.Server(GitCommit, BuildDate)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	addr := cfg.Server.ListenAddress
	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Server listening on %s\n", addr)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s%s\n", addr, cfg.Telemetry.Health.LivenessPath)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", addr, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// watchConfig applies reloaded tiers, tenants, keys and log level to the
// running engine.
func watchConfig(ctx context.Context, eng *engine.Engine, logger *logging.Logger) (func(), error) {
	watcher, err := config.NewWatcher(cfgFile, 0, nil)
	if err != nil {
		return nil, err
	}

	config.OnReload(func(next *config.Config) {
		if err := eng.Apply(next); err != nil {
			slog.Error("failed to apply reloaded configuration", "error", err)
		}
		if err := logger.SetLevel(next.Telemetry.Logging.Level); err != nil {
			slog.Warn("invalid log level in reloaded configuration", "error", err)
		}
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil {
			slog.Error("configuration watcher stopped", "error", err)
		}
	}()

	return func() { _ = watcher.Stop() }, nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Turnstile v%s\n", Version)
	fmt.Fprintf(w, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(w, "✓ Configuration loaded")

	slog.Debug("limits configured",
		"tiers", len(cfg.Limits.Tiers),
		"tenants", len(cfg.Limits.Tenants),
		"api_keys", len(cfg.Limits.APIKeys),
	)
}
