package exec

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/internal/expr"
	"github.com/quarrydb/quarry/internal/observability"
	"github.com/quarrydb/quarry/pkg/types"
)

// Filter emits exactly the rows for which the predicate is true, in order.
// NULL counts as false.
type Filter struct {
	base
	child Operator
	pred  expr.Expr
	done  bool
}

// NewFilter fails with TYPE_MISMATCH unless pred is Boolean over child's schema.
func NewFilter(child Operator, pred expr.Expr) (*Filter, error) {
	t, err := pred.DataType(child.Schema())
	if err != nil {
		return nil, err
	}
	if t.ID != types.TypeBoolean {
		return nil, qerrors.TypeMismatch("filter predicate must be Boolean, got %s", t).
			WithDetails(map[string]interface{}{"expression": pred.String()})
	}
	return &Filter{child: child, pred: pred}, nil
}

func (f *Filter) instrument(name string, stats *observability.QueryStats) {
	f.base.instrument(name, stats)
	recordPredicates(stats, f.pred)
}

// recordPredicates notes every column compared against another expression.
func recordPredicates(stats *observability.QueryStats, e expr.Expr) {
	bin, ok := e.(*expr.BinaryExpr)
	if !ok {
		return
	}
	if bin.Op == expr.OpAnd || bin.Op == expr.OpOr {
		recordPredicates(stats, bin.Left)
		recordPredicates(stats, bin.Right)
		return
	}
	if col, ok := bin.Left.(*expr.ColumnRef); ok {
		stats.RecordPredicate(col.Name, bin.Op.String())
	}
}

func (f *Filter) Schema() *types.Schema { return f.child.Schema() }

func (f *Filter) Next(ctx context.Context) (*batch.Batch, error) {
	if f.done {
		return nil, io.EOF
	}
	in, err := f.child.Next(ctx)
	if err != nil {
		f.done = true
		return nil, f.fail("filter", err)
	}
	start := time.Now()
	f.consumed(in)

	mask, err := f.pred.Eval(in)
	if err != nil {
		f.done = true
		return nil, f.fail("filter", err)
	}
	keep := make([]int, 0, in.NumRows())
	for i := 0; i < in.NumRows(); i++ {
		if !mask.IsNull(i) && mask.Bool(i) {
			keep = append(keep, i)
		}
	}
	out := in
	if len(keep) != in.NumRows() {
		out = in.Take(keep)
	}
	f.emit(out, start)
	return out, nil
}

func (f *Filter) Close() error {
	f.done = true
	return f.child.Close()
}

func (f *Filter) Children() []Operator { return []Operator{f.child} }

func (f *Filter) String() string { return fmt.Sprintf("Filter(%s)", f.pred) }
