package expr

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// AggFunc is an aggregate function kind.
type AggFunc int

const (
	AggSum AggFunc = iota
	AggAvg
	AggCount
	AggCountStar
	AggMin
	AggMax
)

// AvgExtraScale is the number of fraction digits avg adds to its input scale.
const AvgExtraScale = 4

var aggNames = map[AggFunc]string{
	AggSum: "sum", AggAvg: "avg", AggCount: "count", AggCountStar: "count",
	AggMin: "min", AggMax: "max",
}

func (f AggFunc) String() string { return aggNames[f] }

// ParseAggFunc converts a function name to AggFunc. COUNT maps to AggCount;
// callers pass a nil argument for count(*).
func ParseAggFunc(name string) (AggFunc, error) {
	switch strings.ToUpper(name) {
	case "SUM":
		return AggSum, nil
	case "AVG":
		return AggAvg, nil
	case "COUNT":
		return AggCount, nil
	case "MIN":
		return AggMin, nil
	case "MAX":
		return AggMax, nil
	default:
		return 0, qerrors.TypeMismatch("unknown aggregate function: %s", name)
	}
}

// AggregateCall is one aggregate output of a hash aggregate.
type AggregateCall struct {
	Func  AggFunc
	Arg   Expr // nil for count(*)
	Alias string
}

func Sum(e Expr) *AggregateCall   { return &AggregateCall{Func: AggSum, Arg: e} }
func Avg(e Expr) *AggregateCall   { return &AggregateCall{Func: AggAvg, Arg: e} }
func Count(e Expr) *AggregateCall { return &AggregateCall{Func: AggCount, Arg: e} }
func CountStar() *AggregateCall   { return &AggregateCall{Func: AggCountStar} }
func Min(e Expr) *AggregateCall   { return &AggregateCall{Func: AggMin, Arg: e} }
func Max(e Expr) *AggregateCall   { return &AggregateCall{Func: AggMax, Arg: e} }

// As sets the output column name.
func (a *AggregateCall) As(alias string) *AggregateCall {
	a.Alias = alias
	return a
}

// Name is the output column name.
func (a *AggregateCall) Name() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.String()
}

func (a *AggregateCall) String() string {
	if a.Func == AggCountStar {
		return "count(*)"
	}
	return fmt.Sprintf("%s(%s)", a.Func, a.Arg)
}

// DataType derives the finalized output type.
func (a *AggregateCall) DataType(schema *types.Schema) (types.DataType, error) {
	if a.Func == AggCountStar {
		return types.Int64, nil
	}
	if a.Arg == nil {
		return types.DataType{}, qerrors.TypeMismatch("%s requires an argument", a.Func)
	}
	in, err := a.Arg.DataType(schema)
	if err != nil {
		return types.DataType{}, err
	}
	switch a.Func {
	case AggCount:
		return types.Int64, nil
	case AggMin, AggMax:
		return in, nil
	case AggSum:
		switch {
		case in.IsInteger():
			return types.Int64, nil
		case in.ID == types.TypeDecimal:
			return types.Decimal(types.MaxDecimalPrecision, in.Scale), nil
		}
	case AggAvg:
		if in.IsNumeric() {
			scale := min(scaleOf(in)+AvgExtraScale, types.MaxDecimalPrecision)
			return types.Decimal(types.MaxDecimalPrecision, scale), nil
		}
	}
	return types.DataType{}, qerrors.TypeMismatch("%s not defined for %s", a.Func, in)
}

// NewAccumulator creates empty per-group state for this call.
func (a *AggregateCall) NewAccumulator(schema *types.Schema) (GroupsAccumulator, error) {
	out, err := a.DataType(schema)
	if err != nil {
		return nil, annotate(err, a)
	}
	switch a.Func {
	case AggCount:
		return &countAccumulator{}, nil
	case AggCountStar:
		return &countAccumulator{star: true}, nil
	case AggSum:
		return &sumAccumulator{out: out}, nil
	case AggAvg:
		in, _ := a.Arg.DataType(schema)
		return &avgAccumulator{inScale: scaleOf(in), out: out}, nil
	default:
		return &minMaxAccumulator{typ: out, isMax: a.Func == AggMax}, nil
	}
}

// Eval evaluates the argument column; nil for count(*).
func (a *AggregateCall) Eval(b *batch.Batch) (*batch.Column, error) {
	if a.Func == AggCountStar {
		return nil, nil
	}
	return a.Arg.Eval(b)
}

// GroupsAccumulator holds one aggregate's state for every group of a hash
// aggregate. State lives in arrays indexed by dense group id.
type GroupsAccumulator interface {
	// Update folds values[i] into group groupIDs[i]. numGroups is the total
	// number of groups seen so far; values is nil for count(*). NULLs are
	// skipped.
	Update(values *batch.Column, groupIDs []int, numGroups int) error

	// Evaluate returns the finalized value of every group in id order.
	Evaluate() (*batch.Column, error)
}

func grow[T any](s []T, n int) []T {
	if len(s) >= n {
		return s
	}
	return append(s, make([]T, n-len(s))...)
}

type countAccumulator struct {
	star   bool
	counts []int64
}

func (c *countAccumulator) Update(values *batch.Column, groupIDs []int, numGroups int) error {
	c.counts = grow(c.counts, numGroups)
	for i, g := range groupIDs {
		if !c.star && values.IsNull(i) {
			continue
		}
		c.counts[g]++
	}
	return nil
}

func (c *countAccumulator) Evaluate() (*batch.Column, error) {
	return batch.NewIntColumn(types.Int64, c.counts, nil), nil
}

type sumAccumulator struct {
	out  types.DataType
	sums []int64
	seen []bool
}

func (s *sumAccumulator) Update(values *batch.Column, groupIDs []int, numGroups int) error {
	s.sums = grow(s.sums, numGroups)
	s.seen = grow(s.seen, numGroups)
	for i, g := range groupIDs {
		if values.IsNull(i) {
			continue
		}
		v, err := types.AddChecked(s.sums[g], values.Int(i))
		if err != nil {
			return err
		}
		s.sums[g] = v
		s.seen[g] = true
	}
	return nil
}

func (s *sumAccumulator) Evaluate() (*batch.Column, error) {
	return batch.NewIntColumn(s.out, s.sums, s.seen), nil
}

// avgAccumulator keeps an exact running sum and count; the quotient is
// computed once per group at finalization.
type avgAccumulator struct {
	inScale int32
	out     types.DataType
	sums    []int64
	counts  []int64
}

func (a *avgAccumulator) Update(values *batch.Column, groupIDs []int, numGroups int) error {
	a.sums = grow(a.sums, numGroups)
	a.counts = grow(a.counts, numGroups)
	for i, g := range groupIDs {
		if values.IsNull(i) {
			continue
		}
		v, err := types.AddChecked(a.sums[g], values.Int(i))
		if err != nil {
			return err
		}
		a.sums[g] = v
		a.counts[g]++
	}
	return nil
}

func (a *avgAccumulator) Evaluate() (*batch.Column, error) {
	out := make([]int64, len(a.sums))
	valid := make([]bool, len(a.sums))
	for g := range a.sums {
		if a.counts[g] == 0 {
			continue
		}
		q := types.ToDecimal(a.sums[g], a.inScale).DivRound(decimal.NewFromInt(a.counts[g]), a.out.Scale)
		v, err := types.FromDecimal(q, a.out.Scale)
		if err != nil {
			return nil, err
		}
		out[g] = v
		valid[g] = true
	}
	return batch.NewIntColumn(a.out, out, valid), nil
}

type minMaxAccumulator struct {
	typ   types.DataType
	isMax bool
	ints  []int64
	strs  []string
	seen  []bool
}

func (m *minMaxAccumulator) Update(values *batch.Column, groupIDs []int, numGroups int) error {
	m.seen = grow(m.seen, numGroups)
	isStr := m.typ.ID == types.TypeUtf8
	if isStr {
		m.strs = grow(m.strs, numGroups)
	} else {
		m.ints = grow(m.ints, numGroups)
	}
	for i, g := range groupIDs {
		if values.IsNull(i) {
			continue
		}
		var c int
		if !m.seen[g] {
			c = 1
			if !m.isMax {
				c = -1
			}
		} else if isStr {
			c = strings.Compare(values.Str(i), m.strs[g])
		} else {
			c = compareInts(values.Int(i), m.ints[g])
		}
		if (m.isMax && c > 0) || (!m.isMax && c < 0) {
			if isStr {
				m.strs[g] = values.Str(i)
			} else {
				m.ints[g] = values.Int(i)
			}
		}
		m.seen[g] = true
	}
	return nil
}

func (m *minMaxAccumulator) Evaluate() (*batch.Column, error) {
	if m.typ.ID == types.TypeUtf8 {
		return batch.NewStringColumn(m.strs, m.seen), nil
	}
	return batch.NewIntColumn(m.typ, m.ints, m.seen), nil
}
