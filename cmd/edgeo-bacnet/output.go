package main

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/edgeo-scada/bacstack/bacnet"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatRaw   OutputFormat = "raw"
)

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(format string) *Formatter {
	return &Formatter{
		format: OutputFormat(format),
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Printf formats and prints output
func (f *Formatter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format, args...)
}

// Println prints a line
func (f *Formatter) Println(args ...interface{}) {
	fmt.Fprintln(f.writer, args...)
}

// Print writes rows in the configured format. records is what gets
// marshalled for JSON output; raw output prints the cells space separated.
func (f *Formatter) Print(headers []string, rows [][]string, records interface{}) error {
	switch f.format {
	case FormatJSON:
		return f.PrintJSON(records)
	case FormatCSV:
		return f.PrintCSV(headers, rows)
	case FormatRaw:
		for _, row := range rows {
			fmt.Fprintln(f.writer, strings.Join(row, " "))
		}
		return nil
	default:
		f.PrintTable(headers, rows)
		return nil
	}
}

// PrintJSON prints v as indented JSON
func (f *Formatter) PrintJSON(v interface{}) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintCSV prints a header line followed by rows
func (f *Formatter) PrintCSV(headers []string, rows [][]string) error {
	w := csv.NewWriter(f.writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

// PrintTable prints data in table format
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)

	for i := range headers {
		fmt.Fprint(f.writer, strings.Repeat("-", widths[i]), " ")
	}
	fmt.Fprintln(f.writer)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
}

// PrintKeyValue prints key-value pairs
func (f *Formatter) PrintKeyValue(pairs map[string]interface{}, order []string) {
	maxKeyLen := 0
	for _, key := range order {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
	}

	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %v\n", maxKeyLen, key, val)
		}
	}
}

func formatValue(v bacnet.Value) string {
	switch v := v.(type) {
	case bacnet.Real:
		return fmt.Sprintf("%.4f", float32(v))
	case bacnet.Double:
		return fmt.Sprintf("%.6f", float64(v))
	case bacnet.OctetString:
		return hex.EncodeToString(v)
	case nil:
		return "null"
	default:
		return v.String()
	}
}

func formatValues(values []bacnet.Value) string {
	if len(values) == 1 {
		return formatValue(values[0])
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// jsonValue converts a value to its natural JSON representation.
func jsonValue(v bacnet.Value) interface{} {
	switch v := v.(type) {
	case bacnet.Null:
		return nil
	case bacnet.Boolean:
		return bool(v)
	case bacnet.Unsigned:
		return uint64(v)
	case bacnet.Signed:
		return int64(v)
	case bacnet.Real:
		return float32(v)
	case bacnet.Double:
		return float64(v)
	case bacnet.Enumerated:
		return uint32(v)
	case bacnet.OctetString:
		return hex.EncodeToString(v)
	case bacnet.BitString:
		return []bool(v)
	default:
		return v.String()
	}
}

func jsonValues(values []bacnet.Value) interface{} {
	if len(values) == 1 {
		return jsonValue(values[0])
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = jsonValue(v)
	}
	return out
}
