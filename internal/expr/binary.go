package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// Op is a binary operator.
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpAnd
	OpOr
)

var opNames = map[Op]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/",
	OpEq: "=", OpNotEq: "<>", OpLt: "<", OpLtEq: "<=", OpGt: ">", OpGtEq: ">=",
	OpAnd: "AND", OpOr: "OR",
}

func (o Op) String() string { return opNames[o] }

func (o Op) isArithmetic() bool { return o <= OpDiv }
func (o Op) isComparison() bool { return o >= OpEq && o <= OpGtEq }

// BinaryExpr applies an arithmetic, comparison, or logical operator.
type BinaryExpr struct {
	Op          Op
	Left, Right Expr
}

// Binary builds a binary expression.
func Binary(op Op, left, right Expr) *BinaryExpr {
	return &BinaryExpr{Op: op, Left: left, Right: right}
}

func Add(l, r Expr) *BinaryExpr   { return Binary(OpAdd, l, r) }
func Sub(l, r Expr) *BinaryExpr   { return Binary(OpSub, l, r) }
func Mul(l, r Expr) *BinaryExpr   { return Binary(OpMul, l, r) }
func Div(l, r Expr) *BinaryExpr   { return Binary(OpDiv, l, r) }
func Eq(l, r Expr) *BinaryExpr    { return Binary(OpEq, l, r) }
func NotEq(l, r Expr) *BinaryExpr { return Binary(OpNotEq, l, r) }
func Lt(l, r Expr) *BinaryExpr    { return Binary(OpLt, l, r) }
func LtEq(l, r Expr) *BinaryExpr  { return Binary(OpLtEq, l, r) }
func Gt(l, r Expr) *BinaryExpr    { return Binary(OpGt, l, r) }
func GtEq(l, r Expr) *BinaryExpr  { return Binary(OpGtEq, l, r) }
func And(l, r Expr) *BinaryExpr   { return Binary(OpAnd, l, r) }
func Or(l, r Expr) *BinaryExpr    { return Binary(OpOr, l, r) }

// AllOf folds predicates with AND.
func AllOf(preds ...Expr) Expr {
	if len(preds) == 0 {
		return Lit(types.BoolValue(true))
	}
	out := preds[0]
	for _, p := range preds[1:] {
		out = And(out, p)
	}
	return out
}

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e *BinaryExpr) DataType(schema *types.Schema) (types.DataType, error) {
	lt, err := e.Left.DataType(schema)
	if err != nil {
		return types.DataType{}, err
	}
	rt, err := e.Right.DataType(schema)
	if err != nil {
		return types.DataType{}, err
	}
	return binaryType(e.Op, lt, rt)
}

func binaryType(op Op, lt, rt types.DataType) (types.DataType, error) {
	switch {
	case op.isArithmetic():
		return arithmeticType(op, lt, rt)
	case op.isComparison():
		if !lt.Comparable(rt) {
			return types.DataType{}, qerrors.TypeMismatch("cannot compare %s %s %s", lt, op, rt)
		}
		return types.Boolean, nil
	default:
		if lt.ID != types.TypeBoolean || rt.ID != types.TypeBoolean {
			return types.DataType{}, qerrors.TypeMismatch("%s requires Boolean operands, got %s and %s", op, lt, rt)
		}
		return types.Boolean, nil
	}
}

func arithmeticType(op Op, lt, rt types.DataType) (types.DataType, error) {
	if !lt.IsNumeric() || !rt.IsNumeric() {
		return types.DataType{}, qerrors.TypeMismatch("operator %s not defined for %s and %s", op, lt, rt)
	}
	if lt.IsInteger() && rt.IsInteger() {
		return types.Int64, nil
	}
	ld, rd := asDecimal(lt), asDecimal(rt)
	switch op {
	case OpAdd, OpSub:
		scale := max(ld.Scale, rd.Scale)
		intDigits := max(ld.Precision-ld.Scale, rd.Precision-rd.Scale)
		return types.Decimal(intDigits+scale+1, scale), nil
	case OpMul:
		scale := ld.Scale + rd.Scale
		if scale > types.MaxDecimalPrecision {
			return types.DataType{}, qerrors.TypeMismatch("product of %s and %s needs scale %d", lt, rt, scale)
		}
		return types.Decimal(ld.Precision+rd.Precision, scale), nil
	default:
		scale := min(max(ld.Scale, rd.Scale)+4, types.MaxDecimalPrecision)
		return types.Decimal(types.MaxDecimalPrecision, scale), nil
	}
}

func (e *BinaryExpr) Eval(b *batch.Batch) (*batch.Column, error) {
	outType, err := e.DataType(b.Schema())
	if err != nil {
		return nil, annotate(err, e)
	}
	l, err := e.Left.Eval(b)
	if err != nil {
		return nil, err
	}
	r, err := e.Right.Eval(b)
	if err != nil {
		return nil, err
	}

	var out *batch.Column
	switch {
	case e.Op.isArithmetic():
		out, err = evalArithmetic(e.Op, outType, l, r)
	case e.Op.isComparison():
		out = evalComparison(e.Op, l, r)
	default:
		out = evalLogical(e.Op, l, r)
	}
	if err != nil {
		return nil, annotate(err, e)
	}
	return out, nil
}

func evalArithmetic(op Op, outType types.DataType, l, r *batch.Column) (*batch.Column, error) {
	n := l.Len()
	out := make([]int64, n)
	valid := mergeValidity(l, r)

	kernel, err := arithmeticKernel(op, outType, l.Type(), r.Type())
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if valid != nil && !valid[i] {
			continue
		}
		v, err := kernel(l.Int(i), r.Int(i))
		if err != nil {
			return nil, withRow(err, i, l.Value(i), r.Value(i))
		}
		out[i] = v
	}
	return batch.NewIntColumn(outType, out, valid), nil
}

type int64Kernel func(a, b int64) (int64, error)

func arithmeticKernel(op Op, outType, lt, rt types.DataType) (int64Kernel, error) {
	if outType.IsInteger() {
		switch op {
		case OpAdd:
			return types.AddChecked, nil
		case OpSub:
			return types.SubChecked, nil
		case OpMul:
			return types.MulChecked, nil
		default:
			return intDiv, nil
		}
	}

	ls, rs := scaleOf(lt), scaleOf(rt)
	switch op {
	case OpAdd, OpSub:
		lf, rf := types.Pow10(outType.Scale-ls), types.Pow10(outType.Scale-rs)
		combine := types.AddChecked
		if op == OpSub {
			combine = types.SubChecked
		}
		return func(a, b int64) (int64, error) {
			x, err := types.MulChecked(a, lf)
			if err != nil {
				return 0, err
			}
			y, err := types.MulChecked(b, rf)
			if err != nil {
				return 0, err
			}
			return combine(x, y)
		}, nil
	case OpMul:
		return types.MulChecked, nil
	default:
		scale := outType.Scale
		return func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, divideByZero()
			}
			q := types.ToDecimal(a, ls).DivRound(types.ToDecimal(b, rs), scale)
			return types.FromDecimal(q, scale)
		}, nil
	}
}

func intDiv(a, b int64) (int64, error) {
	if b == 0 {
		return 0, divideByZero()
	}
	if a == math.MinInt64 && b == -1 {
		return 0, qerrors.NewExpressionError(qerrors.CodeDecimalOverflow, "int64 overflow in division")
	}
	return a / b, nil
}

func divideByZero() error {
	return qerrors.NewExpressionError(qerrors.CodeDivideByZero, "division by zero")
}

func withRow(err error, row int, l, r types.Value) error {
	if qe, ok := err.(*qerrors.QuarryError); ok {
		return qe.WithDetails(map[string]interface{}{
			"row":   row,
			"left":  l.String(),
			"right": r.String(),
		})
	}
	return fmt.Errorf("row %d (%s, %s): %w", row, l, r, err)
}

func evalComparison(op Op, l, r *batch.Column) *batch.Column {
	n := l.Len()
	out := make([]int64, n)
	valid := mergeValidity(l, r)
	cmp := comparator(l, r)
	for i := 0; i < n; i++ {
		if valid != nil && !valid[i] {
			continue
		}
		if holds(op, cmp(i)) {
			out[i] = 1
		}
	}
	return batch.NewIntColumn(types.Boolean, out, valid)
}

// comparator returns a row-wise three-way comparison of two columns whose
// types were already checked as comparable.
func comparator(l, r *batch.Column) func(i int) int {
	lt, rt := l.Type(), r.Type()
	if lt.ID == types.TypeUtf8 {
		return func(i int) int { return strings.Compare(l.Str(i), r.Str(i)) }
	}
	if lt.IsNumeric() && rt.IsNumeric() {
		ls, rs := scaleOf(lt), scaleOf(rt)
		if ls != rs {
			target := max(ls, rs)
			lf, rf := types.Pow10(target-ls), types.Pow10(target-rs)
			return func(i int) int {
				a, errA := types.MulChecked(l.Int(i), lf)
				b, errB := types.MulChecked(r.Int(i), rf)
				if errA != nil || errB != nil {
					return l.Value(i).Compare(r.Value(i))
				}
				return compareInts(a, b)
			}
		}
	}
	return func(i int) int { return compareInts(l.Int(i), r.Int(i)) }
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func holds(op Op, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpNotEq:
		return c != 0
	case OpLt:
		return c < 0
	case OpLtEq:
		return c <= 0
	case OpGt:
		return c > 0
	default:
		return c >= 0
	}
}

// evalLogical applies three-valued AND/OR.
func evalLogical(op Op, l, r *batch.Column) *batch.Column {
	n := l.Len()
	out := make([]int64, n)
	var valid []bool
	if l.NullCount() > 0 || r.NullCount() > 0 {
		valid = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		lNull, rNull := l.IsNull(i), r.IsNull(i)
		lv, rv := !lNull && l.Bool(i), !rNull && r.Bool(i)
		var result, null bool
		if op == OpAnd {
			switch {
			case (!lNull && !lv) || (!rNull && !rv):
				result = false
			case lNull || rNull:
				null = true
			default:
				result = true
			}
		} else {
			switch {
			case lv || rv:
				result = true
			case lNull || rNull:
				null = true
			}
		}
		if result {
			out[i] = 1
		}
		if valid != nil {
			valid[i] = !null
		}
	}
	return batch.NewIntColumn(types.Boolean, out, valid)
}
