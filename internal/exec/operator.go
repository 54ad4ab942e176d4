// Package exec implements the pull-based operator pipeline and the driver
// that materializes a query result from the root operator.
//
// Every operator answers Next with either a batch (possibly empty) or
// io.EOF. After io.EOF or an error an operator stays finished.
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
	"github.com/quarrydb/quarry/internal/observability"
	"github.com/quarrydb/quarry/pkg/types"
)

// Operator is one node of an operator tree.
type Operator interface {
	// Schema is the schema of every batch Next returns.
	Schema() *types.Schema

	// Next returns the next batch, or io.EOF once the input is exhausted.
	Next(ctx context.Context) (*batch.Batch, error)

	// Close releases resources held by the operator and its children.
	Close() error

	// Children returns the direct inputs.
	Children() []Operator

	String() string
}

// base carries the naming and metrics shared by all operators.
type base struct {
	name  string
	stats *observability.QueryStats
}

func (b *base) instrument(name string, stats *observability.QueryStats) {
	b.name = name
	b.stats = stats
}

func (b *base) label(kind string) string {
	if b.name != "" {
		return b.name
	}
	return kind
}

// emit records one produced batch.
func (b *base) emit(out *batch.Batch, start time.Time) {
	b.stats.RecordOutput(b.name, out.NumRows(), time.Since(start))
}

func (b *base) consumed(in *batch.Batch) {
	b.stats.RecordInput(b.name, in.NumRows())
}

// fail attaches the operator name to err unless an inner operator already did.
func (b *base) fail(kind string, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	var qe *qerrors.QuarryError
	if errors.As(err, &qe) {
		if _, ok := qe.Details["operator"]; ok {
			return err
		}
		return qe.WithDetails(map[string]interface{}{"operator": b.label(kind)})
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", b.label(kind), err)
}

type instrumentable interface {
	instrument(name string, stats *observability.QueryStats)
}

// Instrument names every operator in the tree "<kind>#<n>" in pre-order and
// routes its metrics to stats.
func Instrument(root Operator, stats *observability.QueryStats) {
	n := 0
	var walk func(op Operator)
	walk = func(op Operator) {
		if in, ok := op.(instrumentable); ok {
			kind := op.String()
			if i := strings.IndexAny(kind, "( "); i > 0 {
				kind = kind[:i]
			}
			in.instrument(fmt.Sprintf("%s#%d", strings.ToLower(kind), n), stats)
		}
		n++
		for _, c := range op.Children() {
			walk(c)
		}
	}
	walk(root)
}

// Explain renders the operator tree, one operator per line.
func Explain(root Operator) string {
	var sb strings.Builder
	var walk func(op Operator, depth int)
	walk = func(op Operator, depth int) {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(op.String())
		sb.WriteByte('\n')
		for _, c := range op.Children() {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return sb.String()
}

// drain pulls every batch from op into fn.
func drain(ctx context.Context, op Operator, fn func(*batch.Batch) error) error {
	for {
		b, err := op.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
}

// closeAll closes every operator and returns the first error.
func closeAll(ops ...Operator) error {
	var first error
	for _, op := range ops {
		if err := op.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// chunker emits a materialized batch in slices of at most size rows.
type chunker struct {
	out  *batch.Batch
	pos  int
	size int
}

func (c *chunker) next() (*batch.Batch, error) {
	if c.out == nil || c.pos >= c.out.NumRows() {
		return nil, io.EOF
	}
	n := min(c.size, c.out.NumRows()-c.pos)
	b, err := c.out.Slice(c.pos, n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return b, nil
}

func batchSizeOr(size int) int {
	if size <= 0 {
		return batch.DefaultSize
	}
	return size
}
