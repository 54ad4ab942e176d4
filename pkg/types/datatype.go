// Package types provides the value and schema model shared by every layer
// of Quarry: semantic column types, schemas, and typed scalar values.
package types

import (
	"fmt"

	qerrors "github.com/quarrydb/quarry/internal/errors"
)

// TypeID identifies the semantic kind of a column.
type TypeID int

const (
	TypeInvalid TypeID = iota
	TypeBoolean
	TypeInt32
	TypeInt64
	TypeDecimal
	TypeUtf8
	TypeDate
)

// MaxDecimalPrecision is the widest decimal that fits an int64 unscaled value.
const MaxDecimalPrecision = 18

// DataType is a semantic column type. Precision and Scale are only
// meaningful for TypeDecimal.
type DataType struct {
	ID        TypeID `json:"id" yaml:"id"`
	Precision int32  `json:"precision,omitempty" yaml:"precision,omitempty"`
	Scale     int32  `json:"scale,omitempty" yaml:"scale,omitempty"`
}

var (
	Boolean = DataType{ID: TypeBoolean}
	Int32   = DataType{ID: TypeInt32}
	Int64   = DataType{ID: TypeInt64}
	Utf8    = DataType{ID: TypeUtf8}
	Date    = DataType{ID: TypeDate}
)

// Decimal returns a decimal type. Precision is clamped to MaxDecimalPrecision.
func Decimal(precision, scale int32) DataType {
	if precision > MaxDecimalPrecision {
		precision = MaxDecimalPrecision
	}
	return DataType{ID: TypeDecimal, Precision: precision, Scale: scale}
}

// Validate rejects types no column can carry: TypeInvalid and decimals
// outside 1 <= precision <= 18, 0 <= scale <= precision.
func (t DataType) Validate() error {
	switch t.ID {
	case TypeBoolean, TypeInt32, TypeInt64, TypeUtf8, TypeDate:
		return nil
	case TypeDecimal:
		if t.Precision < 1 || t.Precision > MaxDecimalPrecision || t.Scale < 0 || t.Scale > t.Precision {
			return qerrors.Newf(qerrors.ErrCategorySchema, qerrors.CodeSchemaMismatch,
				"invalid decimal type Decimal(%d,%d): need 1 <= precision <= %d and 0 <= scale <= precision",
				t.Precision, t.Scale, MaxDecimalPrecision).
				WithDetails(map[string]interface{}{"precision": t.Precision, "scale": t.Scale})
		}
		return nil
	}
	return qerrors.NewSchemaError(qerrors.CodeSchemaMismatch, "invalid data type")
}

// String returns the display name of the type.
func (t DataType) String() string {
	switch t.ID {
	case TypeBoolean:
		return "Boolean"
	case TypeInt32:
		return "Int32"
	case TypeInt64:
		return "Int64"
	case TypeDecimal:
		return fmt.Sprintf("Decimal(%d,%d)", t.Precision, t.Scale)
	case TypeUtf8:
		return "Utf8"
	case TypeDate:
		return "Date"
	default:
		return "Invalid"
	}
}

// IsInteger reports whether the type is Int32 or Int64.
func (t DataType) IsInteger() bool {
	return t.ID == TypeInt32 || t.ID == TypeInt64
}

// IsNumeric reports whether arithmetic is defined on the type.
func (t DataType) IsNumeric() bool {
	return t.IsInteger() || t.ID == TypeDecimal
}

// IsIntBacked reports whether values of the type are stored as int64.
func (t DataType) IsIntBacked() bool {
	switch t.ID {
	case TypeInt32, TypeInt64, TypeDecimal, TypeDate:
		return true
	}
	return false
}

// Comparable reports whether values of t and o may be compared.
func (t DataType) Comparable(o DataType) bool {
	if t.IsNumeric() && o.IsNumeric() {
		return true
	}
	return t.ID == o.ID && t.ID != TypeInvalid
}

// ParseDataType converts a type name such as "Decimal(15,2)" or "date".
// Decimal parameters are validated, never clamped.
func ParseDataType(name string) (DataType, error) {
	var p, s int32
	for _, layout := range []string{"Decimal(%d,%d)", "decimal(%d,%d)"} {
		if n, _ := fmt.Sscanf(name, layout, &p, &s); n == 2 {
			t := DataType{ID: TypeDecimal, Precision: p, Scale: s}
			if err := t.Validate(); err != nil {
				return DataType{}, err
			}
			return t, nil
		}
	}
	switch name {
	case "Boolean", "boolean", "bool":
		return Boolean, nil
	case "Int32", "int32", "int", "integer":
		return Int32, nil
	case "Int64", "int64", "bigint":
		return Int64, nil
	case "Utf8", "utf8", "string", "varchar", "text":
		return Utf8, nil
	case "Date", "date":
		return Date, nil
	}
	return DataType{}, fmt.Errorf("types: unknown data type %q", name)
}
