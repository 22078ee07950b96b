package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is aligned plain text output (default).
	FormatText OutputFormat = "text"
	// FormatJSON is JSON output.
	FormatJSON OutputFormat = "json"
	// FormatCSV is CSV output.
	FormatCSV OutputFormat = "csv"
)

// Table is implemented by results that render as rows.
type Table interface {
	Header() []string
	Rows() [][]string
}

// Formatter formats command output.
type Formatter interface {
	FormatTo(w io.Writer, data any) error
}

// TextFormatter writes tables as tab-aligned columns and anything else with %v.
type TextFormatter struct{}

// FormatTo writes data to w in text format.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	table, ok := data.(Table)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if h := table.Header(); len(h) > 0 {
		fmt.Fprintln(tw, strings.ToUpper(strings.Join(h, "\t")))
	}
	for _, row := range table.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes data to w in JSON format.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// CSVFormatter formats tables as CSV.
type CSVFormatter struct {
	OmitHeader bool
}

// FormatTo writes data to w in CSV format. data must implement Table.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	table, ok := data.(Table)
	if !ok {
		return fmt.Errorf("csv output not supported for %T", data)
	}

	cw := csv.NewWriter(w)
	if !f.OmitHeader {
		if err := cw.Write(table.Header()); err != nil {
			return err
		}
	}
	if err := cw.WriteAll(table.Rows()); err != nil {
		return err
	}
	return cw.Error()
}

// NewFormatter creates a formatter for the named format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatText, "":
		return &TextFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{Indent: true}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	}
	return nil, fmt.Errorf("unknown output format %q (must be text, json or csv)", format)
}
