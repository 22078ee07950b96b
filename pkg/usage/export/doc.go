// Package export writes usage events in formats suitable for billing and
// analytics pipelines.
//
// # Export Formats
//
//   - json: a JSON array, optionally pretty-printed
//   - jsonl: one JSON object per line
//   - csv: flat rows with a header
//
// # Usage
//
//	exporter, err := export.New("csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	events, _ := store.Query(ctx, &usage.Query{TenantID: "org-1"})
//	if err := exporter.Export(ctx, events, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
//
// Exporters return usage.ExportError when encoding or writing fails.
package export
