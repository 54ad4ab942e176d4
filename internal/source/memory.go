package source

import (
	"context"
	"io"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// MemorySource replays batches held in memory.
type MemorySource struct {
	schema  *types.Schema
	batches []*batch.Batch
	pos     int
}

// NewMemorySource checks every batch against schema.
func NewMemorySource(schema *types.Schema, batches ...*batch.Batch) (*MemorySource, error) {
	for i, b := range batches {
		if !b.Schema().Equal(schema) {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
				"memory source batch does not match declared schema").
				WithDetails(map[string]interface{}{
					"batch":    i,
					"expected": schema.String(),
					"actual":   b.Schema().String(),
				})
		}
	}
	return &MemorySource{schema: schema, batches: batches}, nil
}

// NewMemorySourceFromRows splits rows into batches of at most batchSize rows.
func NewMemorySourceFromRows(schema *types.Schema, rows [][]types.Value, batchSize int) (*MemorySource, error) {
	if batchSize <= 0 {
		batchSize = batch.DefaultSize
	}
	var batches []*batch.Batch
	for off := 0; off < len(rows); off += batchSize {
		end := min(off+batchSize, len(rows))
		b, err := batch.FromRows(schema, rows[off:end])
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return NewMemorySource(schema, batches...)
}

func (m *MemorySource) Schema() *types.Schema { return m.schema }

func (m *MemorySource) Next(ctx context.Context) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.pos >= len(m.batches) {
		return nil, io.EOF
	}
	b := m.batches[m.pos]
	m.pos++
	return b, nil
}

func (m *MemorySource) Close() error {
	m.pos = len(m.batches)
	return nil
}
