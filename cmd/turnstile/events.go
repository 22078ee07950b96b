package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/engine"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/usage"
	"mercator-hq/turnstile/pkg/usage/export"
	"mercator-hq/turnstile/pkg/usage/query"
	"mercator-hq/turnstile/pkg/usage/retention"
)

var eventsFlags struct {
	tenant        string
	apiKey        string
	resource      string
	outcome       string
	reason        string
	overageOnly   bool
	since         string
	until         string
	limit         int
	offset        int
	sortBy        string
	sortOrder     string
	queryFormat   string
	exportFormat  string
	summaryFormat string
	output        string
	batchSize     int
	dryRun        bool
	sweep         bool
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query and maintain recorded usage events",
	Long: `Query, export, summarize and prune the usage events recorded for every
admission decision.

Subcommands:
  query    - Query events with filters
  export   - Export every matching event in batches
  summary  - Aggregate matching events per tenant and resource
  prune    - Apply the retention policy now

Time filters are RFC 3339 timestamps.`,
}

var eventsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query usage events",
	Long: `Query usage events with filters.

Examples:
  # Denials of one tenant this month
  turnstile events query --tenant acme --outcome denied --since 2026-03-01T00:00:00Z

  # Rate-limit denials of one key as CSV
  turnstile events query --key key-1 --reason rate_limited --format csv

  # Billed overage to a file
  turnstile events query --overage-only --format json --output overage.json`,
	RunE: queryEvents,
}

var eventsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all matching usage events",
	Long: `Export every event matching the filters in batches, reporting progress
on stderr. Formats: jsonl, csv.

Examples:
  # Export one month for billing
  turnstile events export --since 2026-02-01T00:00:00Z --until 2026-03-01T00:00:00Z --format csv --output feb.csv`,
	RunE: exportEvents,
}

var eventsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize usage events per tenant and resource",
	Long: `Aggregate matching events into admitted, denied, consumed and overage
totals per tenant and resource.

Examples:
  turnstile events summary --since 2026-03-01T00:00:00Z`,
	RunE: summarizeEvents,
}

var eventsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the event retention policy",
	Long: `Delete events older than usage.retention.days or beyond
usage.retention.max_events, archiving them first when configured, and sweep
expired counters from the counter store.

Examples:
  # Show what would be deleted by age
  turnstile events prune --dry-run

  # Prune events only
  turnstile events prune --sweep-counters=false`,
	RunE: pruneEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsQueryCmd, eventsExportCmd, eventsSummaryCmd, eventsPruneCmd)

	for _, cmd := range []*cobra.Command{eventsQueryCmd, eventsExportCmd, eventsSummaryCmd} {
		f := cmd.Flags()
		f.StringVar(&eventsFlags.tenant, "tenant", "", "filter by tenant ID")
		f.StringVar(&eventsFlags.apiKey, "key", "", "filter by API key ID")
		f.StringVar(&eventsFlags.resource, "resource", "", "filter by resource type")
		f.StringVar(&eventsFlags.outcome, "outcome", "", "filter by outcome (admitted, denied)")
		f.StringVar(&eventsFlags.reason, "reason", "", "filter by denial reason")
		f.BoolVar(&eventsFlags.overageOnly, "overage-only", false, "only events billed as overage")
		f.StringVar(&eventsFlags.since, "since", "", "start time (RFC 3339, inclusive)")
		f.StringVar(&eventsFlags.until, "until", "", "end time (RFC 3339, inclusive)")
		f.StringVarP(&eventsFlags.output, "output", "o", "", "output file (default: stdout)")
	}

	eventsQueryCmd.Flags().IntVar(&eventsFlags.limit, "limit", query.DefaultLimit, "max results")
	eventsQueryCmd.Flags().IntVar(&eventsFlags.offset, "offset", 0, "pagination offset")
	eventsQueryCmd.Flags().StringVar(&eventsFlags.sortBy, "sort-by", "timestamp", "sort field: timestamp, amount, tenant_id, resource_type")
	eventsQueryCmd.Flags().StringVar(&eventsFlags.sortOrder, "sort-order", "desc", "sort order: asc, desc")
	eventsQueryCmd.Flags().StringVar(&eventsFlags.queryFormat, "format", "text", "output format: text, json, jsonl, csv")

	eventsExportCmd.Flags().StringVar(&eventsFlags.exportFormat, "format", "jsonl", "output format: jsonl, csv")
	eventsExportCmd.Flags().IntVar(&eventsFlags.batchSize, "batch-size", 1000, "events per batch")

	eventsSummaryCmd.Flags().StringVar(&eventsFlags.summaryFormat, "format", "text", "output format: text, json, csv")

	eventsPruneCmd.Flags().BoolVar(&eventsFlags.dryRun, "dry-run", false, "report events past the retention cutoff without deleting")
	eventsPruneCmd.Flags().BoolVar(&eventsFlags.sweep, "sweep-counters", true, "also remove expired counters")
}

// eventFilter builds the query parameters shared by the event subcommands,
// in the same form the HTTP API accepts.
func eventFilter() url.Values {
	v := url.Values{}
	set := func(name, value string) {
		if value != "" {
			v.Set(name, value)
		}
	}
	set("tenant_id", eventsFlags.tenant)
	set("api_key_id", eventsFlags.apiKey)
	set("resource_type", eventsFlags.resource)
	set("outcome", eventsFlags.outcome)
	set("denial_reason", eventsFlags.reason)
	set("since", eventsFlags.since)
	set("until", eventsFlags.until)
	if eventsFlags.overageOnly {
		v.Set("overage_only", "true")
	}
	return v
}

// openEvents loads the configuration and opens the event storage.
func openEvents(cmd *cobra.Command) (*config.Config, usage.Storage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	setupToolLogging(cfg, cmd.ErrOrStderr())

	store, err := engine.NewEventStorage(cfg.Usage.Storage)
	if err != nil {
		return nil, nil, cli.NewCommandError("events", err)
	}
	return cfg, store, nil
}

// eventTable renders events as text rows.
type eventTable []*usage.Event

func (t eventTable) Header() []string {
	return []string{"timestamp", "tenant", "api_key", "resource", "amount", "outcome", "reason", "overage"}
}

func (t eventTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		reason := ""
		if e.Outcome == usage.OutcomeDenied {
			reason = string(e.DenialReason)
		}
		rows = append(rows, []string{
			e.Timestamp.Format(time.RFC3339),
			e.TenantID,
			e.APIKeyID,
			string(e.Resource),
			strconv.FormatInt(e.Amount, 10),
			string(e.Outcome),
			reason,
			strconv.FormatBool(e.Overage),
		})
	}
	return rows
}

func queryEvents(cmd *cobra.Command, args []string) error {
	v := eventFilter()
	v.Set("limit", strconv.Itoa(eventsFlags.limit))
	v.Set("offset", strconv.Itoa(eventsFlags.offset))
	v.Set("sort_by", eventsFlags.sortBy)
	v.Set("sort_order", eventsFlags.sortOrder)

	q, err := query.FromValues(v)
	if err != nil {
		return err
	}

	cfg, store, err := openEvents(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Usage.Query.Timeout)
	defer cancel()

	events, err := store.Query(ctx, q)
	if err != nil {
		return cli.NewCommandError("events query", err)
	}

	w, closeOut, err := writeOutput(eventsFlags.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	if eventsFlags.queryFormat == string(cli.FormatText) {
		if len(events) == 0 {
			fmt.Fprintln(w, "No usage events found.")
			return nil
		}
		return (&cli.TextFormatter{}).FormatTo(w, eventTable(events))
	}

	exporter, err := export.NewWithOptions(eventsFlags.queryFormat, export.Options{
		JSONPretty:       cfg.Usage.Export.JSONPretty,
		CSVIncludeHeader: cfg.Usage.Export.CSVIncludeHeader,
	})
	if err != nil {
		return err
	}
	return exporter.Export(ctx, events, w)
}

func exportEvents(cmd *cobra.Command, args []string) error {
	if eventsFlags.exportFormat != "jsonl" && eventsFlags.exportFormat != "csv" {
		return fmt.Errorf("unsupported export format %q (must be jsonl or csv)", eventsFlags.exportFormat)
	}
	if eventsFlags.batchSize <= 0 || eventsFlags.batchSize > query.MaxLimit {
		return fmt.Errorf("batch size must be between 1 and %d", query.MaxLimit)
	}

	v := eventFilter()
	v.Set("sort_order", "asc")
	q, err := query.FromValues(v)
	if err != nil {
		return err
	}

	cfg, store, err := openEvents(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	total, err := store.Count(ctx, q)
	if err != nil {
		return cli.NewCommandError("events export", err)
	}

	w, closeOut, err := writeOutput(eventsFlags.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "events")
	progress.Start(total)

	opts := export.Options{CSVIncludeHeader: cfg.Usage.Export.CSVIncludeHeader}
	q.Limit = eventsFlags.batchSize
	var written int64
	for q.Offset = 0; ; q.Offset += q.Limit {
		batch, err := store.Query(ctx, q)
		if err != nil {
			progress.Error(err)
			return cli.NewCommandError("events export", err)
		}
		if len(batch) == 0 {
			break
		}

		exporter, err := export.NewWithOptions(eventsFlags.exportFormat, opts)
		if err != nil {
			return err
		}
		if err := exporter.Export(ctx, batch, w); err != nil {
			progress.Error(err)
			return cli.NewCommandError("events export", err)
		}
		opts.CSVIncludeHeader = false

		written += int64(len(batch))
		progress.Update(written)
		if len(batch) < q.Limit {
			break
		}
	}
	progress.Finish()

	msg := fmt.Sprintf("exported %d events", written)
	if eventsFlags.output != "" {
		msg += " to " + eventsFlags.output
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "✓", msg)
	return nil
}

// summaryTable renders per tenant and resource totals.
type summaryTable []usage.Summary

func (t summaryTable) Header() []string {
	return []string{"tenant", "resource", "admitted", "denied", "amount", "overage"}
}

func (t summaryTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		rows = append(rows, []string{
			s.TenantID,
			string(s.Resource),
			strconv.FormatInt(s.Admitted, 10),
			strconv.FormatInt(s.Denied, 10),
			strconv.FormatInt(s.Amount, 10),
			strconv.FormatInt(s.Overage, 10),
		})
	}
	return rows
}

func summarizeEvents(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(eventsFlags.summaryFormat))
	if err != nil {
		return err
	}

	q, err := query.FromValues(eventFilter())
	if err != nil {
		return err
	}

	cfg, store, err := openEvents(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Usage.Query.Timeout)
	defer cancel()

	var events []*usage.Event
	q.Limit = query.MaxLimit
	for q.Offset = 0; ; q.Offset += q.Limit {
		batch, err := store.Query(ctx, q)
		if err != nil {
			return cli.NewCommandError("events summary", err)
		}
		events = append(events, batch...)
		if len(batch) < q.Limit {
			break
		}
	}

	w, closeOut, err := writeOutput(eventsFlags.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	return formatter.FormatTo(w, summaryTable(usage.Summarize(events)))
}

func pruneEvents(cmd *cobra.Command, args []string) error {
	cfg, store, err := openEvents(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	var counters retention.CounterSweeper
	if eventsFlags.sweep && !eventsFlags.dryRun {
		ttls := engine.CounterTTLs(cfg.Limits.CounterTTLs)
		cs, err := engine.NewCounterStore(cfg.Limits.Storage, ttls.For(limits.WindowMonth), time.Now)
		if err != nil {
			return cli.NewCommandError("events prune", err)
		}
		defer cs.Close()
		counters = cs
	}

	pruner := retention.NewPruner(store, counters, engine.RetentionConfig(cfg.Usage.Retention, time.Now))
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if eventsFlags.dryRun {
		cutoff := pruner.Cutoff()
		if cutoff.IsZero() {
			fmt.Fprintln(out, "Age-based retention is disabled (usage.retention.days = 0)")
			return nil
		}
		n, err := store.Count(ctx, &usage.Query{EndTime: &cutoff})
		if err != nil {
			return cli.NewCommandError("events prune", err)
		}
		fmt.Fprintf(out, "%d events recorded before %s would be deleted\n", n, cutoff.Format(time.RFC3339))
		return nil
	}

	deleted, err := pruner.Prune(ctx)
	if err != nil {
		return cli.NewCommandError("events prune", err)
	}
	fmt.Fprintf(out, "✓ Pruned %d events\n", deleted)

	if counters != nil {
		swept, err := pruner.SweepCounters(ctx)
		if err != nil {
			return cli.NewCommandError("events prune", err)
		}
		fmt.Fprintf(out, "✓ Swept %d expired counters\n", swept)
	}
	return nil
}

