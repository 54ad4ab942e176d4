// Package batch provides the immutable columnar data unit that flows
// between operators: typed nullable columns grouped under one schema.
package batch

import (
	"fmt"

	"github.com/quarrydb/quarry/pkg/types"
)

// Column is a homogeneous, fixed-length, nullable array of values.
//
// Int32, Int64, Decimal (unscaled), Date (days) and Boolean (0/1) values
// live in ints; Utf8 values live in strs. valid is nil when the column has
// no nulls. A Column never changes after construction, so slices may share
// backing arrays.
type Column struct {
	typ   types.DataType
	ints  []int64
	strs  []string
	valid []bool
	nulls int
	n     int
}

// NewIntColumn wraps int64 storage for an int-backed type. valid may be nil.
func NewIntColumn(typ types.DataType, vals []int64, valid []bool) *Column {
	return newColumn(typ, vals, nil, valid, len(vals))
}

// NewStringColumn wraps Utf8 storage. valid may be nil.
func NewStringColumn(vals []string, valid []bool) *Column {
	return newColumn(types.Utf8, nil, vals, valid, len(vals))
}

// NewBoolColumn builds a Boolean column. valid may be nil.
func NewBoolColumn(vals []bool, valid []bool) *Column {
	ints := make([]int64, len(vals))
	for i, v := range vals {
		if v {
			ints[i] = 1
		}
	}
	return newColumn(types.Boolean, ints, nil, valid, len(vals))
}

// NewNullColumn builds an all-NULL column of the given type and length.
func NewNullColumn(typ types.DataType, n int) *Column {
	valid := make([]bool, n)
	if typ.ID == types.TypeUtf8 {
		return newColumn(typ, nil, make([]string, n), valid, n)
	}
	return newColumn(typ, make([]int64, n), nil, valid, n)
}

// NewConstantColumn repeats v n times.
func NewConstantColumn(v types.Value, n int) *Column {
	if v.IsNull() {
		return NewNullColumn(v.Type(), n)
	}
	if v.Type().ID == types.TypeUtf8 {
		strs := make([]string, n)
		for i := range strs {
			strs[i] = v.Str()
		}
		return newColumn(v.Type(), nil, strs, nil, n)
	}
	ints := make([]int64, n)
	for i := range ints {
		ints[i] = v.Raw()
	}
	return newColumn(v.Type(), ints, nil, nil, n)
}

func newColumn(typ types.DataType, ints []int64, strs []string, valid []bool, n int) *Column {
	c := &Column{typ: typ, ints: ints, strs: strs, n: n}
	if valid != nil {
		for _, ok := range valid {
			if !ok {
				c.nulls++
			}
		}
		if c.nulls > 0 {
			c.valid = valid
		}
	}
	return c
}

// Type returns the column's semantic type.
func (c *Column) Type() types.DataType { return c.typ }

// Len returns the number of slots.
func (c *Column) Len() int { return c.n }

// NullCount returns the number of NULL slots.
func (c *Column) NullCount() int { return c.nulls }

// IsNull reports whether slot i is NULL.
func (c *Column) IsNull(i int) bool {
	return c.valid != nil && !c.valid[i]
}

// Int returns the int64 storage of slot i.
func (c *Column) Int(i int) int64 { return c.ints[i] }

// Str returns the string at slot i.
func (c *Column) Str(i int) string { return c.strs[i] }

// Bool returns the boolean at slot i.
func (c *Column) Bool(i int) bool { return c.ints[i] != 0 }

// Ints exposes the int64 storage. Callers must not modify it.
func (c *Column) Ints() []int64 { return c.ints }

// Strings exposes the string storage. Callers must not modify it.
func (c *Column) Strings() []string { return c.strs }

// Value returns slot i as a typed scalar.
func (c *Column) Value(i int) types.Value {
	if c.IsNull(i) {
		return types.Null(c.typ)
	}
	if c.typ.ID == types.TypeUtf8 {
		return types.StringValue(c.strs[i])
	}
	return types.NewIntBacked(c.typ, c.ints[i])
}

// Slice returns a view of [offset, offset+length) sharing storage.
func (c *Column) Slice(offset, length int) *Column {
	out := &Column{typ: c.typ, n: length}
	if c.ints != nil {
		out.ints = c.ints[offset : offset+length : offset+length]
	}
	if c.strs != nil {
		out.strs = c.strs[offset : offset+length : offset+length]
	}
	if c.valid != nil {
		valid := c.valid[offset : offset+length : offset+length]
		for _, ok := range valid {
			if !ok {
				out.nulls++
			}
		}
		if out.nulls > 0 {
			out.valid = valid
		}
	}
	return out
}

// Take gathers the given row positions into a new column.
func (c *Column) Take(indices []int) *Column {
	var valid []bool
	if c.valid != nil {
		valid = make([]bool, len(indices))
		for i, idx := range indices {
			valid[i] = c.valid[idx]
		}
	}
	if c.typ.ID == types.TypeUtf8 {
		strs := make([]string, len(indices))
		for i, idx := range indices {
			strs[i] = c.strs[idx]
		}
		return newColumn(c.typ, nil, strs, valid, len(indices))
	}
	ints := make([]int64, len(indices))
	for i, idx := range indices {
		ints[i] = c.ints[idx]
	}
	return newColumn(c.typ, ints, nil, valid, len(indices))
}

// ConcatColumns appends columns of one type into a new column.
func ConcatColumns(typ types.DataType, cols []*Column) (*Column, error) {
	total := 0
	hasNulls := false
	for _, c := range cols {
		if c.typ != typ {
			return nil, fmt.Errorf("batch: cannot concatenate %s column into %s", c.typ, typ)
		}
		total += c.n
		hasNulls = hasNulls || c.nulls > 0
	}
	var valid []bool
	if hasNulls {
		valid = make([]bool, 0, total)
	}
	if typ.ID == types.TypeUtf8 {
		strs := make([]string, 0, total)
		for _, c := range cols {
			strs = append(strs, c.strs...)
			valid = appendValidity(valid, c, hasNulls)
		}
		return newColumn(typ, nil, strs, valid, total), nil
	}
	ints := make([]int64, 0, total)
	for _, c := range cols {
		ints = append(ints, c.ints...)
		valid = appendValidity(valid, c, hasNulls)
	}
	return newColumn(typ, ints, nil, valid, total), nil
}

func appendValidity(dst []bool, c *Column, needed bool) []bool {
	if !needed {
		return dst
	}
	if c.valid != nil {
		return append(dst, c.valid...)
	}
	for i := 0; i < c.n; i++ {
		dst = append(dst, true)
	}
	return dst
}
