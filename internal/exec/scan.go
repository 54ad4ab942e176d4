package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/internal/source"
	"github.com/quarrydb/quarry/pkg/types"
)

// Scan reads batches from a source, optionally keeping only some columns.
type Scan struct {
	base
	src     source.Source
	schema  *types.Schema
	indices []int // nil keeps every column
	done    bool
}

// NewScan wraps src. With columns given, only those columns are emitted in
// the given order.
func NewScan(src source.Source, columns ...string) (*Scan, error) {
	s := &Scan{src: src, schema: src.Schema()}
	if len(columns) == 0 {
		return s, nil
	}
	s.indices = make([]int, len(columns))
	for i, name := range columns {
		idx, err := src.Schema().IndexOf(name)
		if err != nil {
			return nil, err
		}
		s.indices[i] = idx
	}
	schema, err := src.Schema().Project(s.indices)
	if err != nil {
		return nil, err
	}
	s.schema = schema
	return s, nil
}

func (s *Scan) Schema() *types.Schema { return s.schema }

func (s *Scan) Next(ctx context.Context) (*batch.Batch, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		s.done = true
		return nil, err
	}
	start := time.Now()
	b, err := s.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		s.done = true
		return nil, io.EOF
	}
	if err != nil {
		s.done = true
		return nil, s.fail("scan", err)
	}
	if !b.Schema().Equal(s.src.Schema()) {
		s.done = true
		return nil, s.fail("scan", qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
			"source produced a batch that does not match its schema").
			WithDetails(map[string]interface{}{
				"expected": s.src.Schema().String(),
				"actual":   b.Schema().String(),
			}))
	}
	if s.indices != nil {
		cols := make([]*batch.Column, len(s.indices))
		for i, idx := range s.indices {
			cols[i] = b.Column(idx)
		}
		if b, err = batch.New(s.schema, cols); err != nil {
			s.done = true
			return nil, s.fail("scan", err)
		}
	}
	s.emit(b, start)
	return b, nil
}

func (s *Scan) Close() error {
	s.done = true
	return s.src.Close()
}

func (s *Scan) Children() []Operator { return nil }

func (s *Scan) String() string {
	return fmt.Sprintf("Scan(%s)", strings.Join(s.schema.Names(), ", "))
}
