package export

import (
	"fmt"

	"mercator-hq/turnstile/pkg/usage"
)

// Formats lists the supported export format names.
var Formats = []string{"json", "jsonl", "csv"}

// Options tune the exporters.
type Options struct {
	// JSONPretty indents "json" output.
	JSONPretty bool

	// CSVIncludeHeader writes a header row before "csv" output.
	CSVIncludeHeader bool
}

// DefaultOptions returns indented JSON and CSV with a header row.
func DefaultOptions() Options {
	return Options{JSONPretty: true, CSVIncludeHeader: true}
}

// New returns the exporter for a format name with DefaultOptions.
func New(format string) (usage.Exporter, error) {
	return NewWithOptions(format, DefaultOptions())
}

// NewWithOptions returns the exporter for a format name.
func NewWithOptions(format string, opts Options) (usage.Exporter, error) {
	switch format {
	case "json", "":
		return NewJSONExporter(opts.JSONPretty), nil
	case "jsonl":
		return NewJSONLinesExporter(), nil
	case "csv":
		return NewCSVExporter(opts.CSVIncludeHeader), nil
	}
	return nil, fmt.Errorf("unsupported export format %q (must be one of %v)", format, Formats)
}

// ContentType returns the HTTP media type of a format.
func ContentType(format string) string {
	switch format {
	case "jsonl":
		return "application/x-ndjson"
	case "csv":
		return "text/csv"
	}
	return "application/json"
}
