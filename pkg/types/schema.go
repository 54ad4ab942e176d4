package types

import (
	"fmt"
	"strings"

	qerrors "github.com/quarrydb/quarry/internal/errors"
)

// Field is a single named, typed column in a schema.
type Field struct {
	// Name is the column name, unique within a schema
	Name string `json:"name" yaml:"name"`

	// Type is the semantic column type
	Type DataType `json:"type" yaml:"type"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable" yaml:"nullable"`
}

// NewField is shorthand for a nullable field.
func NewField(name string, typ DataType) Field {
	return Field{Name: name, Type: typ, Nullable: true}
}

// Schema is an ordered sequence of fields. A Schema is immutable once built.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema, rejecting duplicate column names and invalid
// types.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
				fmt.Sprintf("field %d has an empty name", i))
		}
		if f.Type.ID == TypeInvalid {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch,
				fmt.Sprintf("field %q has an invalid type", f.Name))
		}
		if err := f.Type.Validate(); err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCategorySchema, qerrors.CodeSchemaMismatch,
				fmt.Sprintf("field %q", f.Name), err).
				WithDetails(map[string]interface{}{"column": f.Name})
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, qerrors.NewSchemaError(qerrors.CodeDuplicateColumn,
				fmt.Sprintf("duplicate column %q", f.Name)).
				WithDetails(map[string]interface{}{"column": f.Name})
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error. Intended for static schemas.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Field returns the i-th field.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// IndexOf returns the position of the named column.
func (s *Schema) IndexOf(name string) (int, error) {
	if idx, ok := s.index[name]; ok {
		return idx, nil
	}
	return -1, qerrors.ColumnNotFound(name).
		WithDetails(map[string]interface{}{"schema": s.String()})
}

// FieldByName returns the named field.
func (s *Schema) FieldByName(name string) (Field, error) {
	idx, err := s.IndexOf(name)
	if err != nil {
		return Field{}, err
	}
	return s.fields[idx], nil
}

// Equal reports positional equality of names and types.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i].Name != o.fields[i].Name || s.fields[i].Type != o.fields[i].Type {
			return false
		}
	}
	return true
}

// Project returns a schema holding the given column positions.
func (s *Schema) Project(indices []int) (*Schema, error) {
	fields := make([]Field, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(s.fields) {
			return nil, qerrors.NewSchemaError(qerrors.CodeColumnNotFound,
				fmt.Sprintf("column index %d out of range [0,%d)", idx, len(s.fields)))
		}
		fields[i] = s.fields[idx]
	}
	return NewSchema(fields...)
}

// Select returns a schema holding the named columns in the given order.
func (s *Schema) Select(names ...string) (*Schema, error) {
	indices := make([]int, len(names))
	for i, name := range names {
		idx, err := s.IndexOf(name)
		if err != nil {
			return nil, err
		}
		indices[i] = idx
	}
	return s.Project(indices)
}

// Join concatenates two schemas, failing on name collisions.
func (s *Schema) Join(o *Schema) (*Schema, error) {
	fields := make([]Field, 0, len(s.fields)+len(o.fields))
	fields = append(fields, s.fields...)
	fields = append(fields, o.fields...)
	return NewSchema(fields...)
}

// String renders the schema as "name:Type, ...".
func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
