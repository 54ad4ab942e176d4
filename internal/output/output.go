// Package output renders query results as an aligned text table, CSV or
// JSON lines.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/internal/observability"
	"github.com/quarrydb/quarry/pkg/types"
)

const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

// NullText is how the table format shows NULL.
const NullText = "NULL"

// Write renders rows in the named format.
func Write(w io.Writer, format string, schema *types.Schema, rows [][]types.Value) error {
	switch format {
	case FormatTable, "":
		return WriteTable(w, schema, rows)
	case FormatCSV:
		return WriteCSV(w, schema, rows)
	case FormatJSON:
		return WriteJSON(w, schema, rows)
	default:
		return qerrors.NewConfigError(fmt.Sprintf("unknown output format %q", format))
	}
}

// WriteTable renders rows as a bordered table with numeric columns right
// aligned, followed by a row count.
func WriteTable(w io.Writer, schema *types.Schema, rows [][]types.Value) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(schema.Names())
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	align := make([]int, schema.Len())
	for i, f := range schema.Fields() {
		align[i] = tablewriter.ALIGN_LEFT
		if f.Type.IsNumeric() {
			align[i] = tablewriter.ALIGN_RIGHT
		}
	}
	table.SetColumnAlignment(align)

	for _, row := range rows {
		table.Append(cells(row, NullText))
	}
	table.Render()

	_, err := fmt.Fprintf(w, "(%d %s)\n", len(rows), plural(len(rows), "row"))
	return err
}

// WriteCSV renders rows as CSV with a header line. NULL is an empty field.
func WriteCSV(w io.Writer, schema *types.Schema, rows [][]types.Value) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.Names()); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(cells(row, "")); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON renders one JSON object per row. Decimals and dates are
// strings so no precision is lost; NULL is null. Keys keep column order.
func WriteJSON(w io.Writer, schema *types.Schema, rows [][]types.Value) error {
	keys := make([][]byte, schema.Len())
	for i, name := range schema.Names() {
		k, err := json.Marshal(name)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	var line []byte
	for _, row := range rows {
		line = append(line[:0], '{')
		for i, v := range row {
			if i > 0 {
				line = append(line, ',')
			}
			val, err := json.Marshal(v.Interface())
			if err != nil {
				return err
			}
			line = append(line, keys[i]...)
			line = append(line, ':')
			line = append(line, val...)
		}
		line = append(line, '}', '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// WriteStats renders per-operator counters as a table followed by a summary
// line. Color is disabled automatically when w is not a terminal.
func WriteStats(w io.Writer, queryID string, stats *observability.QueryStats, elapsed time.Duration) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"operator", "rows in", "rows out", "batches", "time"})
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})
	for _, op := range stats.Operators() {
		table.Append([]string{
			op.Operator,
			strconv.FormatInt(op.RowsIn, 10),
			strconv.FormatInt(op.RowsOut, 10),
			strconv.FormatInt(op.BatchesOut, 10),
			op.Elapsed.Round(time.Microsecond).String(),
		})
	}
	table.Render()

	summary := color.New(color.FgGreen)
	summary.Fprintf(w, "query %s finished in %s\n", queryID, elapsed.Round(time.Microsecond))
}

// WriteError renders a failed query in red.
func WriteError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(w, "error: %v\n", err)
	if details := qerrors.GetDetails(err); len(details) > 0 {
		color.New(color.FgYellow).Fprintf(w, "details: %v\n", details)
	}
}

func cells(row []types.Value, null string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v.IsNull() {
			out[i] = null
			continue
		}
		out[i] = v.String()
	}
	return out
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
