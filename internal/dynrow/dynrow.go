// Package dynrow provides a record type whose fields are declared at runtime
// by a schema manifest.
package dynrow

import (
	"fmt"
	"strings"

	"github.com/maruel/recdb/internal/manifest"
	"github.com/maruel/recdb/internal/schema"
)

// Row holds one value per declared field, in declaration order. A missing or
// nil value is null.
type Row struct {
	Values []any
}

// Of returns a row holding values.
func Of(values ...any) Row {
	return Row{Values: values}
}

// At returns the value at position i, or nil.
func (r Row) At(i int) any {
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}

func (r Row) String() string {
	parts := make([]string, len(r.Values))
	for i, v := range r.Values {
		parts[i] = schema.Format(v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Registry builds the field registry described by m.
func Registry(m *manifest.Schema) (*schema.Registry[Row], error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	fields := make([]schema.Field[Row], len(m.Fields))
	for i := range m.Fields {
		fc := &m.Fields[i]
		kind, err := fc.Kind()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fc.Name, err)
		}
		c, err := fc.Constraint()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fc.Name, err)
		}
		fields[i] = schema.Dynamic(fc.Name, kind, getter(i), setter(i, len(m.Fields))).With(c)
	}
	return schema.New(m.Entity, fields...)
}

func getter(i int) func(Row) any {
	return func(r Row) any { return r.At(i) }
}

func setter(i, n int) func(*Row, any) {
	return func(r *Row, v any) {
		// Copy on write: rows are passed by value and may share arrays.
		vals := make([]any, max(n, len(r.Values)))
		copy(vals, r.Values)
		vals[i] = v
		r.Values = vals
	}
}
