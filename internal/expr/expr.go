// Package expr evaluates scalar expressions over batches and maintains
// per-group aggregate state for the hash aggregate operator.
//
// Expression trees are built once per query from an already type-checked
// plan and evaluated per batch; evaluation is pure over its input batch.
package expr

import (
	"errors"
	"fmt"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// Expr is a scalar expression node.
type Expr interface {
	// DataType derives the output type against an input schema.
	DataType(schema *types.Schema) (types.DataType, error)

	// Eval produces one output slot per input row.
	Eval(b *batch.Batch) (*batch.Column, error)

	String() string
}

// ColumnRef references an input column by name.
type ColumnRef struct {
	Name string
}

// Col is shorthand for a column reference.
func Col(name string) *ColumnRef { return &ColumnRef{Name: name} }

func (c *ColumnRef) DataType(schema *types.Schema) (types.DataType, error) {
	f, err := schema.FieldByName(c.Name)
	if err != nil {
		return types.DataType{}, err
	}
	return f.Type, nil
}

func (c *ColumnRef) Eval(b *batch.Batch) (*batch.Column, error) {
	return b.ColumnByName(c.Name)
}

func (c *ColumnRef) String() string { return c.Name }

// Literal is a constant broadcast to every row.
type Literal struct {
	Value types.Value
}

// Lit wraps a typed value.
func Lit(v types.Value) *Literal { return &Literal{Value: v} }

// IntLit is an Int64 literal.
func IntLit(v int64) *Literal { return Lit(types.Int64Value(v)) }

// StrLit is a Utf8 literal.
func StrLit(s string) *Literal { return Lit(types.StringValue(s)) }

// DateLit is a Date literal parsed from YYYY-MM-DD; it panics on bad text.
func DateLit(s string) *Literal { return Lit(types.DateValue(types.MustParseDate(s))) }

// DecLit is a decimal literal such as DecLit("0.06", 15, 2); it panics on bad text.
func DecLit(text string, precision, scale int32) *Literal {
	return Lit(types.MustDecimal(text, precision, scale))
}

func (l *Literal) DataType(*types.Schema) (types.DataType, error) {
	return l.Value.Type(), nil
}

func (l *Literal) Eval(b *batch.Batch) (*batch.Column, error) {
	return batch.NewConstantColumn(l.Value, b.NumRows()), nil
}

func (l *Literal) String() string {
	switch l.Value.Type().ID {
	case types.TypeUtf8:
		return fmt.Sprintf("'%s'", l.Value.Str())
	case types.TypeDate:
		return fmt.Sprintf("date '%s'", l.Value.String())
	}
	return l.Value.String()
}

// annotate attaches the innermost failing expression to err.
func annotate(err error, e Expr) error {
	var qe *qerrors.QuarryError
	if errors.As(err, &qe) {
		if _, ok := qe.Details["expression"]; ok {
			return err
		}
		return qe.WithDetails(map[string]interface{}{"expression": e.String()})
	}
	return fmt.Errorf("expr %s: %w", e, err)
}

// mergeValidity returns the combined validity of two columns, or nil when
// neither has nulls.
func mergeValidity(l, r *batch.Column) []bool {
	if l.NullCount() == 0 && r.NullCount() == 0 {
		return nil
	}
	valid := make([]bool, l.Len())
	for i := range valid {
		valid[i] = !l.IsNull(i) && !r.IsNull(i)
	}
	return valid
}

// copyValidity extracts a column's validity, or nil when it has no nulls.
func copyValidity(c *batch.Column) []bool {
	if c.NullCount() == 0 {
		return nil
	}
	valid := make([]bool, c.Len())
	for i := range valid {
		valid[i] = !c.IsNull(i)
	}
	return valid
}

// scaleOf returns the decimal scale of a numeric type; integers have scale 0.
func scaleOf(t types.DataType) int32 {
	if t.ID == types.TypeDecimal {
		return t.Scale
	}
	return 0
}

// asDecimal promotes integer types to the narrowest decimal holding them.
func asDecimal(t types.DataType) types.DataType {
	switch t.ID {
	case types.TypeInt32:
		return types.Decimal(10, 0)
	case types.TypeInt64:
		return types.Decimal(types.MaxDecimalPrecision, 0)
	}
	return t
}
