// Package schema describes entity fields: their names, semantic types, constraints and typed accessors.
//
// A Registry is built once per entity type from explicit Field descriptors and
// is never mutated afterwards.
package schema

import (
	"fmt"
	"strings"

	"github.com/maruel/recdb/internal/errors"
)

// Kind is the semantic type of a field. It selects the conversion used when
// raw text or driver values are assigned to the field.
type Kind int

const (
	// Text fields hold a string.
	Text Kind = iota
	// Int fields hold an int.
	Int
	// Float fields hold a float32.
	Float
	// Double fields hold a float64.
	Double
	// Bool fields hold a bool.
	Bool
)

var kindNames = [...]string{Text: "text", Int: "int", Float: "float", Double: "double", Bool: "bool"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the Kind named s, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string":
		return Text, nil
	case "int", "integer":
		return Int, nil
	case "float":
		return Float, nil
	case "double", "number":
		return Double, nil
	case "bool", "boolean":
		return Bool, nil
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

// Constraint is a set of flags restricting the values a field may hold.
type Constraint uint8

const (
	// PrimaryKey requires a non-empty value unique across the store. Exactly
	// one field per entity must carry it.
	PrimaryKey Constraint = 1 << iota
	// Unique requires a value not repeated by any other record.
	Unique
	// NotNull requires a non-null, non-empty value.
	NotNull
)

// Has reports whether every flag in o is set in c.
func (c Constraint) Has(o Constraint) bool {
	return c&o == o
}

func (c Constraint) String() string {
	var parts []string
	if c.Has(PrimaryKey) {
		parts = append(parts, "primary_key")
	}
	if c.Has(Unique) {
		parts = append(parts, "unique")
	}
	if c.Has(NotNull) {
		parts = append(parts, "not_null")
	}
	return strings.Join(parts, "|")
}

// ParseConstraint returns the constraint named s.
func ParseConstraint(s string) (Constraint, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "primary_key", "primarykey", "pk":
		return PrimaryKey, nil
	case "unique":
		return Unique, nil
	case "not_null", "notnull", "required":
		return NotNull, nil
	}
	return 0, fmt.Errorf("unknown constraint %q", s)
}

// Field describes one field of entity type T.
//
// Get returns the field value as the Go type of Kind, or nil for null. Set
// assigns a value already converted by Coerce.
type Field[T any] struct {
	Name        string
	Kind        Kind
	Constraints Constraint
	Get         func(T) any
	Set         func(*T, any) error
}

// With returns a copy of f with the constraints c added.
func (f Field[T]) With(c Constraint) Field[T] {
	f.Constraints |= c
	return f
}

// Assign converts v to the field kind and stores it in t.
//
// A null value for a non-Text PrimaryKey or NotNull field fails with
// MISSING_VALUE rather than storing the zero value.
func (f Field[T]) Assign(t *T, v any) error {
	cv, err := Coerce(f.Kind, v)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.Name, err)
	}
	if cv == nil && f.Kind != Text && f.Constraints&(PrimaryKey|NotNull) != 0 {
		return errors.MissingValue(f.Name)
	}
	return f.Set(t, cv)
}

// Dynamic builds a field whose accessors deal with already converted values.
// It backs entities whose layout is only known at runtime.
func Dynamic[T any](name string, kind Kind, get func(T) any, set func(*T, any)) Field[T] {
	return Field[T]{
		Name: name,
		Kind: kind,
		Get:  get,
		Set: func(t *T, v any) error {
			set(t, v)
			return nil
		},
	}
}

// TextField builds a Text field from typed accessors.
func TextField[T any](name string, get func(T) string, set func(*T, string)) Field[T] {
	return typed(name, Text, get, set)
}

// IntField builds an Int field from typed accessors.
func IntField[T any](name string, get func(T) int, set func(*T, int)) Field[T] {
	return typed(name, Int, get, set)
}

// FloatField builds a Float field from typed accessors.
func FloatField[T any](name string, get func(T) float32, set func(*T, float32)) Field[T] {
	return typed(name, Float, get, set)
}

// DoubleField builds a Double field from typed accessors.
func DoubleField[T any](name string, get func(T) float64, set func(*T, float64)) Field[T] {
	return typed(name, Double, get, set)
}

// BoolField builds a Bool field from typed accessors.
func BoolField[T any](name string, get func(T) bool, set func(*T, bool)) Field[T] {
	return typed(name, Bool, get, set)
}

func typed[T any, V string | int | float32 | float64 | bool](name string, kind Kind, get func(T) V, set func(*T, V)) Field[T] {
	return Field[T]{
		Name: name,
		Kind: kind,
		Get:  func(t T) any { return get(t) },
		Set: func(t *T, v any) error {
			if v == nil {
				var zero V
				set(t, zero)
				return nil
			}
			x, ok := v.(V)
			if !ok {
				return fmt.Errorf("field %s: cannot assign %T to %s", name, v, kind)
			}
			set(t, x)
			return nil
		},
	}
}
