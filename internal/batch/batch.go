package batch

import (
	"fmt"
	"strings"

	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// DefaultSize is the row count operators aim for when they produce batches.
const DefaultSize = 4096

// Batch is an ordered set of equal-length columns under one schema.
// A Batch is immutable: every transformation returns a new Batch.
type Batch struct {
	schema *types.Schema
	cols   []*Column
	rows   int
}

// New validates and assembles a batch. It fails with SCHEMA_MISMATCH when
// the column count, a column type, nullability, or a column length
// disagrees with the schema.
func New(schema *types.Schema, cols []*Column) (*Batch, error) {
	if schema == nil {
		return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch, "batch requires a schema")
	}
	if len(cols) != schema.Len() {
		return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
			fmt.Sprintf("schema has %d columns, got %d", schema.Len(), len(cols))).
			WithDetails(map[string]interface{}{"schema": schema.String()})
	}
	rows := 0
	for i, c := range cols {
		f := schema.Field(i)
		if c == nil {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
				fmt.Sprintf("column %q is nil", f.Name))
		}
		if c.Type() != f.Type {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
				fmt.Sprintf("column %q: schema type %s, column type %s", f.Name, f.Type, c.Type())).
				WithDetails(map[string]interface{}{"column": f.Name})
		}
		if !f.Nullable && c.NullCount() > 0 {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
				fmt.Sprintf("column %q is not nullable but has %d nulls", f.Name, c.NullCount()))
		}
		if i == 0 {
			rows = c.Len()
		} else if c.Len() != rows {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
				fmt.Sprintf("column %q has %d rows, expected %d", f.Name, c.Len(), rows)).
				WithDetails(map[string]interface{}{"column": f.Name})
		}
	}
	return &Batch{schema: schema, cols: cols, rows: rows}, nil
}

// Empty returns a valid zero-row batch.
func Empty(schema *types.Schema) *Batch {
	cols := make([]*Column, schema.Len())
	for i := range cols {
		cols[i] = NewBuilder(schema.Field(i).Type, 0).Finish()
	}
	return &Batch{schema: schema, cols: cols}
}

// FromRows builds a batch from row tuples, type-checking every value.
func FromRows(schema *types.Schema, rows [][]types.Value) (*Batch, error) {
	builders := make([]*Builder, schema.Len())
	for i := range builders {
		builders[i] = NewBuilder(schema.Field(i).Type, len(rows))
	}
	for r, row := range rows {
		if len(row) != schema.Len() {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
				fmt.Sprintf("row %d has %d values, schema has %d columns", r, len(row), schema.Len()))
		}
		for i, v := range row {
			if err := builders[i].Append(v); err != nil {
				return nil, fmt.Errorf("batch: row %d column %q: %w", r, schema.Field(i).Name, err)
			}
		}
	}
	cols := make([]*Column, len(builders))
	for i, b := range builders {
		cols[i] = b.Finish()
	}
	return New(schema, cols)
}

// Schema returns the batch schema.
func (b *Batch) Schema() *types.Schema { return b.schema }

// NumRows returns the row count.
func (b *Batch) NumRows() int { return b.rows }

// NumCols returns the column count.
func (b *Batch) NumCols() int { return len(b.cols) }

// Column returns the i-th column.
func (b *Batch) Column(i int) *Column { return b.cols[i] }

// Columns returns the columns. The returned slice is a copy.
func (b *Batch) Columns() []*Column {
	out := make([]*Column, len(b.cols))
	copy(out, b.cols)
	return out
}

// ColumnByName returns the named column or COLUMN_NOT_FOUND.
func (b *Batch) ColumnByName(name string) (*Column, error) {
	idx, err := b.schema.IndexOf(name)
	if err != nil {
		return nil, err
	}
	return b.cols[idx], nil
}

// Row returns row i as a tuple.
func (b *Batch) Row(i int) []types.Value {
	row := make([]types.Value, len(b.cols))
	for c, col := range b.cols {
		row[c] = col.Value(i)
	}
	return row
}

// Rows materializes every row.
func (b *Batch) Rows() [][]types.Value {
	rows := make([][]types.Value, b.rows)
	for i := range rows {
		rows[i] = b.Row(i)
	}
	return rows
}

// Slice returns the rows [offset, offset+length) as a new batch sharing
// storage with b. The source batch is never modified.
func (b *Batch) Slice(offset, length int) (*Batch, error) {
	if offset < 0 || length < 0 || offset+length > b.rows {
		return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
			fmt.Sprintf("slice [%d,%d) out of range for %d rows", offset, offset+length, b.rows))
	}
	cols := make([]*Column, len(b.cols))
	for i, c := range b.cols {
		cols[i] = c.Slice(offset, length)
	}
	return &Batch{schema: b.schema, cols: cols, rows: length}, nil
}

// Take gathers the given row positions into a new batch.
func (b *Batch) Take(indices []int) *Batch {
	cols := make([]*Column, len(b.cols))
	for i, c := range b.cols {
		cols[i] = c.Take(indices)
	}
	return &Batch{schema: b.schema, cols: cols, rows: len(indices)}
}

// WithSchema relabels the batch under a positionally identical schema,
// e.g. after column renames.
func (b *Batch) WithSchema(schema *types.Schema) (*Batch, error) {
	return New(schema, b.cols)
}

// Concat joins batches of one schema into a single batch.
func Concat(schema *types.Schema, batches []*Batch) (*Batch, error) {
	if len(batches) == 1 && batches[0].schema.Equal(schema) {
		return batches[0], nil
	}
	cols := make([]*Column, schema.Len())
	parts := make([]*Column, len(batches))
	for i := range cols {
		for j, bt := range batches {
			if bt.NumCols() != schema.Len() {
				return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
					fmt.Sprintf("batch %d has %d columns, schema has %d", j, bt.NumCols(), schema.Len()))
			}
			parts[j] = bt.cols[i]
		}
		col, err := ConcatColumns(schema.Field(i).Type, parts)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCategorySchema, qerrors.CodeSchemaMismatch,
				fmt.Sprintf("concatenating column %q", schema.Field(i).Name), err)
		}
		cols[i] = col
	}
	return New(schema, cols)
}

// String renders the batch as a small text table, for debugging.
func (b *Batch) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(b.schema.Names(), " | "))
	sb.WriteByte('\n')
	for i := 0; i < b.rows; i++ {
		row := b.Row(i)
		parts := make([]string, len(row))
		for j, v := range row {
			parts[j] = v.String()
		}
		sb.WriteString(strings.Join(parts, " | "))
		sb.WriteByte('\n')
	}
	return sb.String()
}
