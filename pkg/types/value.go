package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Value is a typed scalar. Int32, Int64, Decimal (unscaled), Date (days)
// and Boolean (0/1) are carried in an int64; Utf8 in a string.
type Value struct {
	typ  DataType
	null bool
	i    int64
	s    string
}

// Null returns a NULL of the given type.
func Null(typ DataType) Value { return Value{typ: typ, null: true} }

func Int32Value(v int32) Value { return Value{typ: Int32, i: int64(v)} }
func Int64Value(v int64) Value { return Value{typ: Int64, i: v} }
func StringValue(v string) Value { return Value{typ: Utf8, s: v} }
func DateValue(d DateDays) Value { return Value{typ: Date, i: int64(d)} }

func BoolValue(v bool) Value {
	if v {
		return Value{typ: Boolean, i: 1}
	}
	return Value{typ: Boolean}
}

// DecimalValue wraps an unscaled value of type Decimal(precision, scale).
func DecimalValue(unscaled int64, precision, scale int32) Value {
	return Value{typ: Decimal(precision, scale), i: unscaled}
}

// MustDecimal parses text into a decimal value; used for static literals.
func MustDecimal(text string, precision, scale int32) Value {
	u, err := ParseDecimal(text, scale)
	if err != nil {
		panic(err)
	}
	return DecimalValue(u, precision, scale)
}

// NewIntBacked builds a value of an int64-backed type from its raw storage.
func NewIntBacked(typ DataType, raw int64) Value {
	return Value{typ: typ, i: raw}
}

func (v Value) Type() DataType { return v.typ }
func (v Value) IsNull() bool   { return v.null }

// Raw returns the int64 storage (unscaled decimal, days, 0/1 for booleans).
func (v Value) Raw() int64 { return v.i }

func (v Value) Int() int64      { return v.i }
func (v Value) Str() string     { return v.s }
func (v Value) Bool() bool      { return v.i != 0 }
func (v Value) Date() DateDays  { return DateDays(v.i) }
func (v Value) Unscaled() int64 { return v.i }

// Decimal returns numeric values as exact decimals.
func (v Value) Decimal() decimal.Decimal {
	if v.typ.ID == TypeDecimal {
		return ToDecimal(v.i, v.typ.Scale)
	}
	return decimal.NewFromInt(v.i)
}

// String renders the value for display. Decimals keep their full scale.
func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	switch v.typ.ID {
	case TypeBoolean:
		return strconv.FormatBool(v.i != 0)
	case TypeInt32, TypeInt64:
		return strconv.FormatInt(v.i, 10)
	case TypeDecimal:
		return FormatDecimal(v.i, v.typ.Scale)
	case TypeUtf8:
		return v.s
	case TypeDate:
		return DateDays(v.i).String()
	}
	return fmt.Sprintf("<invalid %d>", v.i)
}

// Interface returns a plain Go value: bool, int32, int64, string, the
// decimal text, the date text, or nil for NULL.
func (v Value) Interface() interface{} {
	if v.null {
		return nil
	}
	switch v.typ.ID {
	case TypeBoolean:
		return v.i != 0
	case TypeInt32:
		return int32(v.i)
	case TypeInt64:
		return v.i
	case TypeUtf8:
		return v.s
	default:
		return v.String()
	}
}

// Equal reports exact equality: same type, same nullness, same value.
// Decimals of different scales are never equal here; Compare normalizes.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ || v.null != o.null {
		return false
	}
	if v.null {
		return true
	}
	return v.i == o.i && v.s == o.s
}

// Compare orders two values. NULL sorts before any non-NULL value. Numeric
// types compare by numeric value across Int32/Int64/Decimal. Values of
// incomparable types compare by type id so the order stays total.
func (v Value) Compare(o Value) int {
	switch {
	case v.null && o.null:
		return 0
	case v.null:
		return -1
	case o.null:
		return 1
	}

	if v.typ.IsNumeric() && o.typ.IsNumeric() {
		if v.typ.ID != TypeDecimal && o.typ.ID != TypeDecimal {
			return compareInt64(v.i, o.i)
		}
		if v.typ.Scale == o.typ.Scale {
			return compareInt64(v.i, o.i)
		}
		return v.Decimal().Cmp(o.Decimal())
	}

	if v.typ.ID != o.typ.ID {
		return compareInt64(int64(v.typ.ID), int64(o.typ.ID))
	}
	if v.typ.ID == TypeUtf8 {
		return strings.Compare(v.s, o.s)
	}
	return compareInt64(v.i, o.i)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
