package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/engine"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/storage"
)

var countersFlags struct {
	tenant    string
	apiKey    string
	resources []string
	at        string
	format    string
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Inspect live rate limit and quota counters",
}

var countersPeekCmd = &cobra.Command{
	Use:   "peek",
	Short: "Read counters without changing them",
	Long: `Read the monthly quota counters of a tenant and, with --key, the
minute, hour and day rate counters of one of its API keys. Counters are
read from the configured counter store and never modified.

Examples:
  # Quota usage of every resource this month
  turnstile counters peek --tenant acme

  # Rate counters of a key at a given instant
  turnstile counters peek --tenant acme --key key-1 --at 2026-03-14T10:30:00Z`,
	RunE: peekCounters,
}

func init() {
	rootCmd.AddCommand(countersCmd)
	countersCmd.AddCommand(countersPeekCmd)

	countersPeekCmd.Flags().StringVar(&countersFlags.tenant, "tenant", "", "tenant ID (required)")
	countersPeekCmd.Flags().StringVar(&countersFlags.apiKey, "key", "", "API key ID for rate counters")
	countersPeekCmd.Flags().StringSliceVar(&countersFlags.resources, "resource", nil, "resource types (default: all)")
	countersPeekCmd.Flags().StringVar(&countersFlags.at, "at", "", "instant whose windows are read (RFC 3339, default: now)")
	countersPeekCmd.Flags().StringVar(&countersFlags.format, "format", "text", "output format: text, json, csv")
	_ = countersPeekCmd.MarkFlagRequired("tenant")
}

// counterRow is one peeked counter.
type counterRow struct {
	Subject     string            `json:"subject"`
	Window      limits.WindowKind `json:"window"`
	WindowStart time.Time         `json:"window_start"`
	Value       int64             `json:"value"`
}

type counterTable struct {
	TenantID string       `json:"tenant_id"`
	At       time.Time    `json:"at"`
	Counters []counterRow `json:"counters"`
}

func (t counterTable) Header() []string {
	return []string{"subject", "window", "window_start", "value"}
}

func (t counterTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Counters))
	for _, c := range t.Counters {
		rows = append(rows, []string{
			c.Subject,
			string(c.Window),
			c.WindowStart.Format(time.RFC3339),
			strconv.FormatInt(c.Value, 10),
		})
	}
	return rows
}

// counterKeys lists the keys to peek for the flags.
func counterKeys(tenantID, apiKeyID string, resources []limits.ResourceType, at time.Time) []storage.Key {
	keys := make([]storage.Key, 0, len(resources)+len(limits.RateWindows))
	for _, r := range resources {
		keys = append(keys, storage.QuotaKey(tenantID, r, at))
	}
	if apiKeyID != "" {
		for _, w := range limits.RateWindows {
			keys = append(keys, storage.RateKey(tenantID, apiKeyID, w, at))
		}
	}
	return keys
}

func peekCounters(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(countersFlags.format))
	if err != nil {
		return err
	}

	at := time.Now().UTC()
	if countersFlags.at != "" {
		at, err = time.Parse(time.RFC3339, countersFlags.at)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	resources := limits.ResourceTypes
	if len(countersFlags.resources) > 0 {
		resources = make([]limits.ResourceType, 0, len(countersFlags.resources))
		for _, s := range countersFlags.resources {
			r := limits.ResourceType(s)
			if !r.Valid() {
				return fmt.Errorf("unknown resource type %q", s)
			}
			resources = append(resources, r)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupToolLogging(cfg, cmd.ErrOrStderr())

	ttls := engine.CounterTTLs(cfg.Limits.CounterTTLs)
	store, err := engine.NewCounterStore(cfg.Limits.Storage, ttls.For(limits.WindowMonth), time.Now)
	if err != nil {
		return cli.NewCommandError("counters peek", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*cfg.Limits.StoreTimeout)
	defer cancel()

	table := counterTable{TenantID: countersFlags.tenant, At: at}
	for _, key := range counterKeys(countersFlags.tenant, countersFlags.apiKey, resources, at) {
		v, err := store.Peek(ctx, key)
		if err != nil {
			return cli.NewCommandError("counters peek", fmt.Errorf("peek %s: %w", key, err))
		}
		table.Counters = append(table.Counters, counterRow{
			Subject:     key.Subject,
			Window:      key.Window,
			WindowStart: key.Start,
			Value:       v,
		})
	}

	return formatter.FormatTo(cmd.OutOrStdout(), table)
}
