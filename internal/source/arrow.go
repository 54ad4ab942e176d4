package source

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// ArrowType maps a column type to its Arrow equivalent.
func ArrowType(t types.DataType) (arrow.DataType, error) {
	switch t.ID {
	case types.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case types.TypeInt32:
		return arrow.PrimitiveTypes.Int32, nil
	case types.TypeInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case types.TypeDecimal:
		return &arrow.Decimal128Type{Precision: t.Precision, Scale: t.Scale}, nil
	case types.TypeUtf8:
		return arrow.BinaryTypes.String, nil
	case types.TypeDate:
		return arrow.FixedWidthTypes.Date32, nil
	}
	return nil, qerrors.NewStorageError(qerrors.CodeUnsupportedFormat,
		fmt.Sprintf("arrow: no mapping for %s", t), nil)
}

// ArrowSchema converts a schema field by field.
func ArrowSchema(s *types.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, s.Len())
	for i, f := range s.Fields() {
		dt, err := ArrowType(f.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: f.Nullable}
	}
	return arrow.NewSchema(fields, nil), nil
}

// ToArrow copies b into a new record. The caller must Release it.
func ToArrow(b *batch.Batch, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema, err := ArrowSchema(b.Schema())
	if err != nil {
		return nil, err
	}
	arrays := make([]arrow.Array, b.NumCols())
	defer func() {
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()
	for i, col := range b.Columns() {
		arrays[i] = buildArrowArray(mem, schema.Field(i).Type, col)
	}
	return array.NewRecord(schema, arrays, int64(b.NumRows())), nil
}

func buildArrowArray(mem memory.Allocator, dt arrow.DataType, col *batch.Column) arrow.Array {
	n := col.Len()
	switch col.Type().ID {
	case types.TypeBoolean:
		bldr := array.NewBooleanBuilder(mem)
		defer bldr.Release()
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				bldr.AppendNull()
			} else {
				bldr.Append(col.Bool(i))
			}
		}
		return bldr.NewArray()
	case types.TypeInt32:
		bldr := array.NewInt32Builder(mem)
		defer bldr.Release()
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				bldr.AppendNull()
			} else {
				bldr.Append(int32(col.Int(i)))
			}
		}
		return bldr.NewArray()
	case types.TypeInt64:
		bldr := array.NewInt64Builder(mem)
		defer bldr.Release()
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				bldr.AppendNull()
			} else {
				bldr.Append(col.Int(i))
			}
		}
		return bldr.NewArray()
	case types.TypeDecimal:
		bldr := array.NewDecimal128Builder(mem, dt.(*arrow.Decimal128Type))
		defer bldr.Release()
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				bldr.AppendNull()
			} else {
				bldr.Append(decimal128.FromI64(col.Int(i)))
			}
		}
		return bldr.NewArray()
	case types.TypeDate:
		bldr := array.NewDate32Builder(mem)
		defer bldr.Release()
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				bldr.AppendNull()
			} else {
				bldr.Append(arrow.Date32(col.Int(i)))
			}
		}
		return bldr.NewArray()
	default:
		bldr := array.NewStringBuilder(mem)
		defer bldr.Release()
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				bldr.AppendNull()
			} else {
				bldr.Append(col.Str(i))
			}
		}
		return bldr.NewArray()
	}
}

// FromArrow converts rec to a batch of schema, picking record columns by
// name and converting each slot to the declared type.
func FromArrow(rec arrow.Record, schema *types.Schema) (*batch.Batch, error) {
	idx := make([]int, schema.Len())
	for i, name := range schema.Names() {
		found := rec.Schema().FieldIndices(name)
		if len(found) == 0 {
			return nil, qerrors.ColumnNotFound(name)
		}
		idx[i] = found[0]
	}

	n := int(rec.NumRows())
	cols := make([]*batch.Column, schema.Len())
	for i, f := range schema.Fields() {
		arr := rec.Column(idx[i])
		bldr := batch.NewBuilder(f.Type, n)
		for r := 0; r < n; r++ {
			raw, err := arrowValue(arr, r)
			if err != nil {
				return nil, err
			}
			v, err := convertArrowValue(raw, f.Type)
			if err != nil {
				return nil, withPosition(err, f.Name, r)
			}
			if err := bldr.Append(v); err != nil {
				return nil, err
			}
		}
		cols[i] = bldr.Finish()
	}
	return batch.New(schema, cols)
}

// decimalRaw carries an Arrow decimal with its own scale.
type decimalRaw struct {
	num   decimal128.Num
	scale int32
}

func arrowValue(arr arrow.Array, i int) (interface{}, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Date32:
		return int32(a.Value(i)), nil
	case *array.Decimal128:
		return decimalRaw{num: a.Value(i), scale: a.DataType().(*arrow.Decimal128Type).Scale}, nil
	}
	return nil, qerrors.NewStorageError(qerrors.CodeUnsupportedFormat,
		fmt.Sprintf("arrow: unsupported array type %s", arr.DataType()), nil)
}

func convertArrowValue(raw interface{}, typ types.DataType) (types.Value, error) {
	d, ok := raw.(decimalRaw)
	if !ok {
		return convertValue(raw, typ)
	}
	bi := d.num.BigInt()
	if !bi.IsInt64() {
		return types.Value{}, qerrors.NewExpressionError(qerrors.CodeDecimalOverflow,
			fmt.Sprintf("arrow decimal %s does not fit 18 digits", bi.String()))
	}
	if typ.ID != types.TypeDecimal {
		return convertValue(types.ToDecimal(bi.Int64(), d.scale).String(), typ)
	}
	u, err := types.Rescale(bi.Int64(), d.scale, typ.Scale)
	if err != nil {
		return types.Value{}, err
	}
	return types.DecimalValue(u, typ.Precision, typ.Scale), nil
}
