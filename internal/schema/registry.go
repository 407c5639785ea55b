package schema

import (
	"errors"
	"fmt"
	"slices"

	"github.com/invopop/jsonschema"
)

var errEntityRequired = errors.New("entity name is required")

// Registry is the immutable field table of entity type T.
type Registry[T any] struct {
	entity string
	fields []Field[T]
	index  map[string]int // folded name -> position in fields
	pks    int
}

// New builds the registry of entity from fields, in declaration order.
//
// Field names must be non-empty and unique ignoring case, and every field
// needs both accessors. The primary key count is not checked here; records
// of an entity without exactly one primary key fail validation instead.
func New[T any](entity string, fields ...Field[T]) (*Registry[T], error) {
	if entity == "" {
		return nil, errEntityRequired
	}
	r := &Registry[T]{
		entity: entity,
		fields: slices.Clone(fields),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range r.fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%s: field %d: name is required", entity, i)
		}
		if f.Get == nil || f.Set == nil {
			return nil, fmt.Errorf("%s: field %s: accessors are required", entity, f.Name)
		}
		key := Fold(f.Name)
		if _, dup := r.index[key]; dup {
			return nil, fmt.Errorf("%s: field %s declared twice", entity, f.Name)
		}
		r.index[key] = i
		if f.Constraints.Has(PrimaryKey) {
			r.pks++
		}
	}
	return r, nil
}

// MustNew is New but panics on error. Use it for registries declared as
// package variables.
func MustNew[T any](entity string, fields ...Field[T]) *Registry[T] {
	r, err := New(entity, fields...)
	if err != nil {
		panic(err)
	}
	return r
}

// Entity returns the entity name.
func (r *Registry[T]) Entity() string {
	return r.entity
}

// Fields returns the fields in declaration order.
func (r *Registry[T]) Fields() []Field[T] {
	return slices.Clone(r.fields)
}

// Names returns the field names in declaration order.
func (r *Registry[T]) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of fields.
func (r *Registry[T]) Len() int {
	return len(r.fields)
}

// Lookup returns the field called name, ignoring case.
func (r *Registry[T]) Lookup(name string) (Field[T], bool) {
	i, ok := r.index[Fold(name)]
	if !ok {
		return Field[T]{}, false
	}
	return r.fields[i], true
}

// PrimaryKeyCount returns how many fields carry the PrimaryKey constraint.
func (r *Registry[T]) PrimaryKeyCount() int {
	return r.pks
}

// PrimaryKey returns the primary key field when exactly one is declared.
func (r *Registry[T]) PrimaryKey() (Field[T], bool) {
	if r.pks != 1 {
		return Field[T]{}, false
	}
	for _, f := range r.fields {
		if f.Constraints.Has(PrimaryKey) {
			return f, true
		}
	}
	return Field[T]{}, false
}

// Equal reports whether a and b hold the same canonical value in every field.
func (r *Registry[T]) Equal(a, b T) bool {
	for _, f := range r.fields {
		if Format(f.Get(a)) != Format(f.Get(b)) {
			return false
		}
	}
	return true
}

// Values returns the canonical string of every field of t, in declaration order.
func (r *Registry[T]) Values(t T) []string {
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = Format(f.Get(t))
	}
	return out
}

// JSONSchema describes the entity as a JSON Schema object.
//
// PrimaryKey and NotNull fields are listed as required; constraints are
// spelled out in each property's description.
func (r *Registry[T]) JSONSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{
		Version:    jsonschema.Version,
		Title:      r.entity,
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	for _, f := range r.fields {
		p := &jsonschema.Schema{Type: jsonType(f.Kind)}
		switch f.Kind {
		case Float:
			p.Format = "float"
		case Double:
			p.Format = "double"
		}
		if f.Constraints != 0 {
			p.Description = f.Constraints.String()
		}
		s.Properties.Set(f.Name, p)
		if f.Constraints.Has(PrimaryKey) || f.Constraints.Has(NotNull) {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

func jsonType(k Kind) string {
	switch k {
	case Int:
		return "integer"
	case Float, Double:
		return "number"
	case Bool:
		return "boolean"
	default:
		return "string"
	}
}
