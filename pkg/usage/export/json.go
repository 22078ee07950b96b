package export

import (
	"context"
	"encoding/json"
	"io"

	"mercator-hq/turnstile/pkg/usage"
)

// JSONExporter exports usage events as a JSON array, or as newline-delimited
// JSON when Lines is set.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation. Ignored when Lines is set.
	Pretty bool

	// Lines writes one JSON object per line instead of an array.
	Lines bool
}

// NewJSONExporter creates a new JSON array exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// NewJSONLinesExporter creates a new newline-delimited JSON exporter.
func NewJSONLinesExporter() *JSONExporter {
	return &JSONExporter{
		Lines: true,
	}
}

// Export writes events to the provided writer.
// An empty slice produces "[]" (or nothing in lines mode).
func (e *JSONExporter) Export(ctx context.Context, events []*usage.Event, w io.Writer) error {
	if e.Lines {
		return e.exportLines(ctx, events, w)
	}

	if events == nil {
		events = []*usage.Event{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(events, "", "  ")
	} else {
		data, err = json.Marshal(events)
	}
	if err != nil {
		return usage.NewExportError("json", len(events), err)
	}

	if _, err := w.Write(data); err != nil {
		return usage.NewExportError("json", len(events), err)
	}
	return nil
}

func (e *JSONExporter) exportLines(ctx context.Context, events []*usage.Event, w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, event := range events {
		if err := ctx.Err(); err != nil {
			return usage.NewExportError("jsonl", i, err)
		}
		if err := enc.Encode(event); err != nil {
			return usage.NewExportError("jsonl", i, err)
		}
	}
	return nil
}
