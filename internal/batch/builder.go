package batch

import (
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// Builder accumulates values of one type and produces a Column.
type Builder struct {
	typ     types.DataType
	ints    []int64
	strs    []string
	valid   []bool
	hasNull bool
}

// NewBuilder creates a builder with the given capacity hint.
func NewBuilder(typ types.DataType, capacity int) *Builder {
	b := &Builder{typ: typ, valid: make([]bool, 0, capacity)}
	if typ.ID == types.TypeUtf8 {
		b.strs = make([]string, 0, capacity)
	} else {
		b.ints = make([]int64, 0, capacity)
	}
	return b
}

// Type returns the builder's column type.
func (b *Builder) Type() types.DataType { return b.typ }

// Len returns the number of appended slots.
func (b *Builder) Len() int { return len(b.valid) }

// Append adds a typed value. NULLs of any type are accepted.
func (b *Builder) Append(v types.Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	if v.Type() != b.typ {
		return qerrors.TypeMismatch("cannot append %s value to %s column", v.Type(), b.typ)
	}
	if b.typ.ID == types.TypeUtf8 {
		b.AppendString(v.Str())
	} else {
		b.AppendInt(v.Raw())
	}
	return nil
}

// AppendNull adds a NULL slot.
func (b *Builder) AppendNull() {
	if b.typ.ID == types.TypeUtf8 {
		b.strs = append(b.strs, "")
	} else {
		b.ints = append(b.ints, 0)
	}
	b.valid = append(b.valid, false)
	b.hasNull = true
}

// AppendInt adds raw int64 storage (unscaled decimal, days, 0/1).
func (b *Builder) AppendInt(v int64) {
	b.ints = append(b.ints, v)
	b.valid = append(b.valid, true)
}

// AppendString adds a Utf8 value.
func (b *Builder) AppendString(s string) {
	b.strs = append(b.strs, s)
	b.valid = append(b.valid, true)
}

// AppendBool adds a Boolean value.
func (b *Builder) AppendBool(v bool) {
	if v {
		b.AppendInt(1)
	} else {
		b.AppendInt(0)
	}
}

// Finish returns the built column. The builder must not be reused.
func (b *Builder) Finish() *Column {
	var valid []bool
	if b.hasNull {
		valid = b.valid
	}
	if b.typ.ID == types.TypeUtf8 {
		return newColumn(b.typ, nil, b.strs, valid, len(b.strs))
	}
	return newColumn(b.typ, b.ints, nil, valid, len(b.ints))
}
