package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "turnstile",
	Short: "Turnstile - usage metering and quota enforcement",
	Long: `Turnstile decides whether tenant-scoped API calls may proceed.

Every call is checked against the calling API key's rate limits (per
minute, hour and day) and the tenant's monthly quota for the requested
resource. Each decision is recorded as a usage event for billing and
analytics.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code for its error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the configuration file with environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	return cfg, nil
}

// setupToolLogging installs a text logger on stderr for the offline
// subcommands. Only warnings are shown unless --verbose is set.
func setupToolLogging(cfg *config.Config, w io.Writer) {
	lc := logging.FromConfig(cfg.Telemetry.Logging)
	lc.Format = string(logging.FormatText)
	lc.Level = "warn"
	if verbose {
		lc.Level = "debug"
	}
	lc.Writer = w

	logger, err := logging.New(lc)
	if err != nil {
		return
	}
	logger.SetDefault()
}

// writeOutput opens the --output file, or returns w when path is empty.
func writeOutput(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
