package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"mercator-hq/turnstile/pkg/usage"
)

// CSVExporter exports usage events to CSV format.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Export writes usage events to the provided writer in CSV format.
func (e *CSVExporter) Export(ctx context.Context, events []*usage.Event, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(headerRow()); err != nil {
			return usage.NewExportError("csv", len(events), err)
		}
	}

	for i, event := range events {
		if err := ctx.Err(); err != nil {
			return usage.NewExportError("csv", i, err)
		}
		if err := writer.Write(eventToRow(event)); err != nil {
			return usage.NewExportError("csv", len(events), err)
		}
		// Flush periodically so long exports make progress.
		if (i+1)%100 == 0 {
			writer.Flush()
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return usage.NewExportError("csv", len(events), err)
	}
	return nil
}

func headerRow() []string {
	return []string{
		"id", "tenant_id", "api_key_id",
		"resource_type", "amount", "timestamp",
		"outcome", "denial_reason", "overage", "fail_open",
	}
}

func eventToRow(event *usage.Event) []string {
	return []string{
		event.ID,
		event.TenantID,
		event.APIKeyID,
		string(event.Resource),
		strconv.FormatInt(event.Amount, 10),
		event.Timestamp.UTC().Format(time.RFC3339),
		string(event.Outcome),
		string(event.DenialReason),
		strconv.FormatBool(event.Overage),
		strconv.FormatBool(event.FailOpen),
	}
}
