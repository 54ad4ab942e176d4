package expr

import (
	"fmt"
	"strconv"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// NotExpr negates a Boolean expression; NULL stays NULL.
type NotExpr struct {
	Input Expr
}

func Not(e Expr) *NotExpr { return &NotExpr{Input: e} }

func (e *NotExpr) DataType(schema *types.Schema) (types.DataType, error) {
	t, err := e.Input.DataType(schema)
	if err != nil {
		return types.DataType{}, err
	}
	if t.ID != types.TypeBoolean {
		return types.DataType{}, qerrors.TypeMismatch("NOT requires Boolean, got %s", t)
	}
	return types.Boolean, nil
}

func (e *NotExpr) Eval(b *batch.Batch) (*batch.Column, error) {
	if _, err := e.DataType(b.Schema()); err != nil {
		return nil, annotate(err, e)
	}
	in, err := e.Input.Eval(b)
	if err != nil {
		return nil, err
	}
	out := make([]int64, in.Len())
	for i := range out {
		if !in.IsNull(i) && !in.Bool(i) {
			out[i] = 1
		}
	}
	return batch.NewIntColumn(types.Boolean, out, copyValidity(in)), nil
}

func (e *NotExpr) String() string { return fmt.Sprintf("NOT %s", e.Input) }

// IsNullExpr tests for NULL; its result is never NULL.
type IsNullExpr struct {
	Input  Expr
	Negate bool
}

func IsNull(e Expr) *IsNullExpr    { return &IsNullExpr{Input: e} }
func IsNotNull(e Expr) *IsNullExpr { return &IsNullExpr{Input: e, Negate: true} }

func (e *IsNullExpr) DataType(schema *types.Schema) (types.DataType, error) {
	if _, err := e.Input.DataType(schema); err != nil {
		return types.DataType{}, err
	}
	return types.Boolean, nil
}

func (e *IsNullExpr) Eval(b *batch.Batch) (*batch.Column, error) {
	in, err := e.Input.Eval(b)
	if err != nil {
		return nil, err
	}
	out := make([]int64, in.Len())
	for i := range out {
		if in.IsNull(i) != e.Negate {
			out[i] = 1
		}
	}
	return batch.NewIntColumn(types.Boolean, out, nil), nil
}

func (e *IsNullExpr) String() string {
	if e.Negate {
		return fmt.Sprintf("%s IS NOT NULL", e.Input)
	}
	return fmt.Sprintf("%s IS NULL", e.Input)
}

// DateAddExpr shifts a Date by a fixed number of calendar days, the
// evaluation of `date ± interval 'N' day`.
type DateAddExpr struct {
	Input Expr
	Days  int
}

// DateAdd shifts forward by days.
func DateAdd(e Expr, days int) *DateAddExpr { return &DateAddExpr{Input: e, Days: days} }

// DateSub shifts backward by days.
func DateSub(e Expr, days int) *DateAddExpr { return &DateAddExpr{Input: e, Days: -days} }

func (e *DateAddExpr) DataType(schema *types.Schema) (types.DataType, error) {
	t, err := e.Input.DataType(schema)
	if err != nil {
		return types.DataType{}, err
	}
	if t.ID != types.TypeDate {
		return types.DataType{}, qerrors.TypeMismatch("interval arithmetic requires Date, got %s", t)
	}
	return types.Date, nil
}

func (e *DateAddExpr) Eval(b *batch.Batch) (*batch.Column, error) {
	if _, err := e.DataType(b.Schema()); err != nil {
		return nil, annotate(err, e)
	}
	in, err := e.Input.Eval(b)
	if err != nil {
		return nil, err
	}
	out := make([]int64, in.Len())
	for i := range out {
		out[i] = int64(types.DateDays(in.Int(i)).AddDays(e.Days))
	}
	return batch.NewIntColumn(types.Date, out, copyValidity(in)), nil
}

func (e *DateAddExpr) String() string {
	if e.Days < 0 {
		return fmt.Sprintf("(%s - interval '%d' day)", e.Input, -e.Days)
	}
	return fmt.Sprintf("(%s + interval '%d' day)", e.Input, e.Days)
}

// RoundExpr rounds a decimal to Digits fraction digits, half away from zero.
// Integers pass through unchanged.
type RoundExpr struct {
	Input  Expr
	Digits int32
}

func Round(e Expr, digits int32) *RoundExpr { return &RoundExpr{Input: e, Digits: digits} }

func (e *RoundExpr) DataType(schema *types.Schema) (types.DataType, error) {
	t, err := e.Input.DataType(schema)
	if err != nil {
		return types.DataType{}, err
	}
	if !t.IsNumeric() {
		return types.DataType{}, qerrors.TypeMismatch("round requires a numeric argument, got %s", t)
	}
	if e.Digits < 0 {
		return types.DataType{}, qerrors.TypeMismatch("round digits must be non-negative, got %d", e.Digits)
	}
	if t.ID != types.TypeDecimal || e.Digits >= t.Scale {
		return t, nil
	}
	// one extra integer digit for the carry, as 9.99 rounds to 10
	precision := t.Precision - (t.Scale - e.Digits) + 1
	if precision > types.MaxDecimalPrecision {
		precision = types.MaxDecimalPrecision
	}
	return types.Decimal(precision, e.Digits), nil
}

func (e *RoundExpr) Eval(b *batch.Batch) (*batch.Column, error) {
	outType, err := e.DataType(b.Schema())
	if err != nil {
		return nil, annotate(err, e)
	}
	in, err := e.Input.Eval(b)
	if err != nil {
		return nil, err
	}
	if outType == in.Type() {
		return in, nil
	}
	drop := in.Type().Scale - outType.Scale
	out := make([]int64, in.Len())
	for i := range out {
		out[i] = types.RoundHalfAwayFromZero(in.Int(i), drop)
	}
	return batch.NewIntColumn(outType, out, copyValidity(in)), nil
}

func (e *RoundExpr) String() string { return fmt.Sprintf("round(%s, %d)", e.Input, e.Digits) }

// CastExpr converts between numeric types, and from Utf8 to Date or numbers.
type CastExpr struct {
	Input Expr
	To    types.DataType
}

func Cast(e Expr, to types.DataType) *CastExpr { return &CastExpr{Input: e, To: to} }

func (e *CastExpr) DataType(schema *types.Schema) (types.DataType, error) {
	from, err := e.Input.DataType(schema)
	if err != nil {
		return types.DataType{}, err
	}
	if err := e.To.Validate(); err != nil {
		return types.DataType{}, err
	}
	switch {
	case from == e.To:
	case from.IsNumeric() && e.To.IsNumeric():
	case from.ID == types.TypeUtf8 && (e.To.IsNumeric() || e.To.ID == types.TypeDate):
	case e.To.ID == types.TypeUtf8:
	default:
		return types.DataType{}, qerrors.TypeMismatch("cannot cast %s to %s", from, e.To)
	}
	return e.To, nil
}

func (e *CastExpr) Eval(b *batch.Batch) (*batch.Column, error) {
	if _, err := e.DataType(b.Schema()); err != nil {
		return nil, annotate(err, e)
	}
	in, err := e.Input.Eval(b)
	if err != nil {
		return nil, err
	}
	if in.Type() == e.To {
		return in, nil
	}
	builder := batch.NewBuilder(e.To, in.Len())
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			builder.AppendNull()
			continue
		}
		v, err := castValue(in.Value(i), e.To)
		if err != nil {
			return nil, annotate(withRow(err, i, in.Value(i), types.Null(e.To)), e)
		}
		if err := builder.Append(v); err != nil {
			return nil, annotate(err, e)
		}
	}
	return builder.Finish(), nil
}

func (e *CastExpr) String() string { return fmt.Sprintf("CAST(%s AS %s)", e.Input, e.To) }

// castValue converts one non-NULL scalar.
func castValue(v types.Value, to types.DataType) (types.Value, error) {
	from := v.Type()
	if to.ID == types.TypeUtf8 {
		return types.StringValue(v.String()), nil
	}
	if from.ID == types.TypeUtf8 {
		switch to.ID {
		case types.TypeDate:
			d, err := types.ParseDate(v.Str())
			if err != nil {
				return types.Value{}, err
			}
			return types.DateValue(d), nil
		case types.TypeDecimal:
			u, err := types.ParseDecimal(v.Str(), to.Scale)
			if err != nil {
				return types.Value{}, err
			}
			return types.DecimalValue(u, to.Precision, to.Scale), nil
		default:
			n, err := strconv.ParseInt(v.Str(), 10, 64)
			if err != nil {
				return types.Value{}, qerrors.TypeMismatch("cannot cast %q to %s", v.Str(), to)
			}
			return intValue(n, to)
		}
	}

	// numeric -> numeric
	raw, err := types.Rescale(v.Raw(), scaleOf(from), scaleOf(to))
	if err != nil {
		return types.Value{}, err
	}
	if to.ID == types.TypeDecimal {
		return types.DecimalValue(raw, to.Precision, to.Scale), nil
	}
	return intValue(raw, to)
}

func intValue(n int64, to types.DataType) (types.Value, error) {
	if to.ID == types.TypeInt32 {
		if n < -1<<31 || n > 1<<31-1 {
			return types.Value{}, qerrors.NewExpressionError(qerrors.CodeDecimalOverflow,
				fmt.Sprintf("%d does not fit Int32", n))
		}
		return types.Int32Value(int32(n)), nil
	}
	return types.Int64Value(n), nil
}
