package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Writer renders a CommandResult.
type Writer interface {
	Write(res *CommandResult) error
}

// Supported formats.
const (
	FormatTSV   = "tsv"
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatTable = "table"
)

// Formats lists the names accepted by New.
var Formats = []string{FormatTSV, FormatCSV, FormatJSON, FormatTable}

// New returns the Writer for format, writing to w.
func New(format string, w io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case "", FormatTSV:
		return &tsvWriter{w: w}, nil
	case FormatCSV:
		return &csvWriter{w: w}, nil
	case FormatJSON:
		return &jsonWriter{w: w}, nil
	case FormatTable:
		return &tableWriter{w: w}, nil
	default:
		return nil, fmt.Errorf("output: unsupported format '%v', expected one of %v", format, Formats)
	}
}

type tsvWriter struct {
	w io.Writer
}

func (t *tsvWriter) Write(res *CommandResult) error {
	if _, err := fmt.Fprintln(t.w, strings.Join(res.Columns, "\t")); err != nil {
		return err
	}
	for _, row := range res.Rows {
		if _, err := fmt.Fprintln(t.w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return nil
}

type csvWriter struct {
	w io.Writer
}

func (c *csvWriter) Write(res *CommandResult) error {
	w := csv.NewWriter(c.w)
	if err := w.Write(res.Columns); err != nil {
		return err
	}
	if err := w.WriteAll(res.Rows); err != nil {
		return err
	}
	return w.Error()
}

// jsonWriter emits one object per row, keyed by column name.
type jsonWriter struct {
	w io.Writer
}

func (j *jsonWriter) Write(res *CommandResult) error {
	enc := json.NewEncoder(j.w)
	for _, row := range res.Rows {
		if len(row) > len(res.Columns) {
			return fmt.Errorf("output: row has '%v' values but only '%v' columns", len(row), len(res.Columns))
		}
		obj := make(map[string]string, len(row))
		for i, v := range row {
			obj[res.Columns[i]] = v
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("output: failed to serialize row: %w", err)
		}
	}
	return nil
}

type tableWriter struct {
	w io.Writer
}

func (t *tableWriter) Write(res *CommandResult) error {
	w := tabwriter.NewWriter(t.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(res.Columns, "\t")))
	for _, row := range res.Rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}
