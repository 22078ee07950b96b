package main

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/engine"
	"mercator-hq/turnstile/pkg/limits"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file with environment overrides, validate it and
resolve every API key against its tenant and tier.

On success the effective tier table is printed.

Examples:
  # Validate the default config
  turnstile validate

  # Validate a specific file and print the tier table as JSON
  turnstile validate --config prod.yaml --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json, csv")
}

// tierTable is the effective tier table after merging the configuration.
type tierTable struct {
	Tiers []tierRow `json:"tiers"`
}

type tierRow struct {
	Tier      limits.Tier                   `json:"tier"`
	Overage   limits.OveragePolicy          `json:"overage"`
	PerMinute int64                         `json:"per_minute"`
	PerHour   int64                         `json:"per_hour"`
	PerDay    int64                         `json:"per_day"`
	Limits    map[limits.ResourceType]int64 `json:"limits"`
}

func (t tierTable) Header() []string {
	h := []string{"tier", "overage", "per_minute", "per_hour", "per_day"}
	for _, r := range limits.ResourceTypes {
		h = append(h, string(r))
	}
	return h
}

func (t tierTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Tiers))
	for _, tr := range t.Tiers {
		row := []string{
			string(tr.Tier),
			string(tr.Overage),
			formatLimit(tr.PerMinute),
			formatLimit(tr.PerHour),
			formatLimit(tr.PerDay),
		}
		for _, r := range limits.ResourceTypes {
			v, ok := tr.Limits[r]
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, formatLimit(v))
		}
		rows = append(rows, row)
	}
	return rows
}

func formatLimit(v int64) string {
	if v == limits.Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(v, 10)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(validateFlags.format))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tiers := engine.BuildPolicies(cfg.Limits)
	tenants, keys, err := engine.BuildDirectory(cfg.Limits, tiers)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	table := tierTable{Tiers: make([]tierRow, 0, len(tiers))}
	for name, p := range tiers {
		table.Tiers = append(table.Tiers, tierRow{
			Tier:      name,
			Overage:   p.Overage,
			PerMinute: p.RateCeilings.PerMinute,
			PerHour:   p.RateCeilings.PerHour,
			PerDay:    p.RateCeilings.PerDay,
			Limits:    p.Limits,
		})
	}
	slices.SortFunc(table.Tiers, func(a, b tierRow) int {
		return cmp.Compare(a.Tier, b.Tier)
	})

	out := cmd.OutOrStdout()
	if validateFlags.format == string(cli.FormatText) {
		fmt.Fprintf(out, "✓ %s is valid (%d tenants, %d API keys)\n\n", cfgFile, len(tenants), len(keys))
	}
	return formatter.FormatTo(out, table)
}
