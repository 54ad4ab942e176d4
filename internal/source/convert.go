package source

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// convertValue coerces a driver or file value into typ. nil becomes NULL.
// Decimal columns accept integers, floats and numeric text; dates accept
// time.Time, ISO text and day counts.
func convertValue(raw interface{}, typ types.DataType) (types.Value, error) {
	if raw == nil {
		return types.Null(typ), nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	switch typ.ID {
	case types.TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return types.BoolValue(v), nil
		case int64:
			return types.BoolValue(v != 0), nil
		case int32:
			return types.BoolValue(v != 0), nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return types.Value{}, conversionError(raw, typ, err)
			}
			return types.BoolValue(b), nil
		}

	case types.TypeInt32, types.TypeInt64:
		n, err := toInt64(raw)
		if err != nil {
			return types.Value{}, conversionError(raw, typ, err)
		}
		if typ.ID == types.TypeInt32 {
			if n < -1<<31 || n > 1<<31-1 {
				return types.Value{}, conversionError(raw, typ, fmt.Errorf("out of int32 range"))
			}
			return types.Int32Value(int32(n)), nil
		}
		return types.Int64Value(n), nil

	case types.TypeDecimal:
		d, err := toDecimal(raw)
		if err != nil {
			return types.Value{}, conversionError(raw, typ, err)
		}
		u, err := types.FromDecimal(d.Round(typ.Scale), typ.Scale)
		if err != nil {
			return types.Value{}, err
		}
		return types.DecimalValue(u, typ.Precision, typ.Scale), nil

	case types.TypeUtf8:
		switch v := raw.(type) {
		case string:
			return types.StringValue(v), nil
		case fmt.Stringer:
			return types.StringValue(v.String()), nil
		default:
			return types.StringValue(fmt.Sprint(v)), nil
		}

	case types.TypeDate:
		switch v := raw.(type) {
		case time.Time:
			return types.DateValue(types.DateFromTime(v)), nil
		case string:
			// SQLite may hand back "1998-09-02 00:00:00+00:00" for DATE columns.
			if len(v) > 10 {
				v = v[:10]
			}
			d, err := types.ParseDate(v)
			if err != nil {
				return types.Value{}, conversionError(raw, typ, err)
			}
			return types.DateValue(d), nil
		case int32:
			return types.DateValue(types.DateDays(v)), nil
		case int64:
			return types.DateValue(types.DateDays(v)), nil
		}
	}
	return types.Value{}, conversionError(raw, typ, nil)
}

func toInt64(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("non-integral value %v", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return 0, fmt.Errorf("unsupported %T", raw)
}

func toDecimal(raw interface{}) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	}
	return decimal.Decimal{}, fmt.Errorf("unsupported %T", raw)
}

func conversionError(raw interface{}, typ types.DataType, cause error) error {
	msg := fmt.Sprintf("cannot convert %T to %s", raw, typ)
	if cause != nil {
		return qerrors.Wrap(qerrors.ErrCategorySchema, qerrors.CodeTypeMismatch, msg, cause)
	}
	return qerrors.New(qerrors.ErrCategorySchema, qerrors.CodeTypeMismatch, msg)
}

// rowAppender converts raw rows into column builders for one batch.
type rowAppender struct {
	schema   *types.Schema
	builders []*batch.Builder
	rows     int
}

func newRowAppender(schema *types.Schema, capacity int) *rowAppender {
	a := &rowAppender{schema: schema, builders: make([]*batch.Builder, schema.Len())}
	for i := range a.builders {
		a.builders[i] = batch.NewBuilder(schema.Field(i).Type, capacity)
	}
	return a
}

// append converts one raw row, naming the offending column on failure.
func (a *rowAppender) append(raw []interface{}) error {
	for i, v := range raw {
		val, err := convertValue(v, a.schema.Field(i).Type)
		if err != nil {
			return withPosition(err, a.schema.Field(i).Name, a.rows)
		}
		if err := a.builders[i].Append(val); err != nil {
			return err
		}
	}
	a.rows++
	return nil
}

// flush returns the accumulated batch and resets the appender.
func (a *rowAppender) flush(capacity int) (*batch.Batch, error) {
	cols := make([]*batch.Column, len(a.builders))
	for i, b := range a.builders {
		cols[i] = b.Finish()
		a.builders[i] = batch.NewBuilder(b.Type(), capacity)
	}
	a.rows = 0
	return batch.New(a.schema, cols)
}

// withPosition tags a conversion error with the column and row it hit.
func withPosition(err error, column string, row int) error {
	var qe *qerrors.QuarryError
	if errors.As(err, &qe) {
		return qe.WithDetails(map[string]interface{}{"column": column, "row": row})
	}
	return err
}
