package exec

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/internal/expr"
	"github.com/quarrydb/quarry/pkg/types"
)

// AggregateOptions bounds a hash aggregate.
type AggregateOptions struct {
	// MaxGroups limits distinct groups; 0 means unlimited.
	MaxGroups int

	// BatchSize is the row count of emitted batches (default batch.DefaultSize).
	BatchSize int
}

type aggState int

const (
	aggAccumulating aggState = iota
	aggEmitting
	aggExhausted
)

// HashAggregate groups its input by the group-by expressions and reduces
// every group with the aggregate calls. It consumes all input before
// emitting anything. Output rows are group keys followed by aggregates, in
// first-seen group order.
type HashAggregate struct {
	base
	child   Operator
	groupBy []NamedExpr
	aggs    []*expr.AggregateCall
	opts    AggregateOptions
	schema  *types.Schema

	state  aggState
	table  *groupTable
	accs   []expr.GroupsAccumulator
	output chunker
}

// NewHashAggregate type-checks the grouping and aggregate expressions.
func NewHashAggregate(child Operator, groupBy []NamedExpr, aggs []*expr.AggregateCall, opts AggregateOptions) (*HashAggregate, error) {
	in := child.Schema()
	keySchema, err := namedSchema(in, groupBy)
	if err != nil {
		return nil, err
	}
	fields := keySchema.Fields()
	keyTypes := make([]types.DataType, len(fields))
	for i, f := range fields {
		keyTypes[i] = f.Type
	}
	accs := make([]expr.GroupsAccumulator, len(aggs))
	for i, a := range aggs {
		t, err := a.DataType(in)
		if err != nil {
			return nil, err
		}
		fields = append(fields, types.NewField(a.Name(), t))
		if accs[i], err = a.NewAccumulator(in); err != nil {
			return nil, err
		}
	}
	schema, err := types.NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return &HashAggregate{
		child:   child,
		groupBy: groupBy,
		aggs:    aggs,
		opts:    opts,
		schema:  schema,
		table:   newGroupTable(keyTypes, opts.MaxGroups),
		accs:    accs,
		output:  chunker{size: batchSizeOr(opts.BatchSize)},
	}, nil
}

func (h *HashAggregate) Schema() *types.Schema { return h.schema }

func (h *HashAggregate) Next(ctx context.Context) (*batch.Batch, error) {
	if h.state == aggAccumulating {
		if err := h.accumulate(ctx); err != nil {
			h.discard()
			return nil, h.fail("hashaggregate", err)
		}
		if err := h.finalize(); err != nil {
			h.discard()
			return nil, h.fail("hashaggregate", err)
		}
		h.state = aggEmitting
	}
	if h.state != aggEmitting {
		return nil, io.EOF
	}
	start := time.Now()
	out, err := h.output.next()
	if err != nil {
		h.discard()
		return nil, err
	}
	h.emit(out, start)
	return out, nil
}

func (h *HashAggregate) accumulate(ctx context.Context) error {
	return drain(ctx, h.child, func(b *batch.Batch) error {
		h.consumed(b)
		keys := make([]*batch.Column, len(h.groupBy))
		for i, g := range h.groupBy {
			col, err := g.Expr.Eval(b)
			if err != nil {
				return err
			}
			keys[i] = col
		}
		ids := make([]int, b.NumRows())
		if err := h.table.intern(keys, b.NumRows(), ids); err != nil {
			return err
		}
		for i, a := range h.aggs {
			values, err := a.Eval(b)
			if err != nil {
				return err
			}
			if err := h.accs[i].Update(values, ids, h.table.len()); err != nil {
				return err
			}
		}
		return nil
	})
}

// finalize converts the group table and accumulators into one batch.
func (h *HashAggregate) finalize() error {
	if len(h.groupBy) == 0 && h.table.len() == 0 {
		// A global aggregate over no rows still yields one row.
		if err := h.table.intern(nil, 1, make([]int, 1)); err != nil {
			return err
		}
	}
	cols := h.table.keyColumns()
	for i, acc := range h.accs {
		if err := acc.Update(nil, nil, h.table.len()); err != nil {
			return err
		}
		col, err := acc.Evaluate()
		if err != nil {
			return err
		}
		if col.Len() != h.table.len() {
			return fmt.Errorf("aggregate %s produced %d values for %d groups", h.aggs[i], col.Len(), h.table.len())
		}
		cols = append(cols, col)
	}
	out, err := batch.New(h.schema, cols)
	if err != nil {
		return err
	}
	h.output.out = out
	h.table, h.accs = nil, nil
	return nil
}

func (h *HashAggregate) discard() {
	h.state = aggExhausted
	h.table, h.accs = nil, nil
	h.output.out = nil
}

func (h *HashAggregate) Close() error {
	h.discard()
	return h.child.Close()
}

func (h *HashAggregate) Children() []Operator { return []Operator{h.child} }

func (h *HashAggregate) String() string {
	keys := make([]string, len(h.groupBy))
	for i, g := range h.groupBy {
		keys[i] = g.name()
	}
	aggs := make([]string, len(h.aggs))
	for i, a := range h.aggs {
		aggs[i] = a.String()
	}
	return fmt.Sprintf("HashAggregate(keys=[%s], aggs=[%s])", strings.Join(keys, ", "), strings.Join(aggs, ", "))
}
