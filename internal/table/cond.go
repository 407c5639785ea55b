package table

import (
	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/schema"
)

// Cond is a filter condition over records of type T.
//
// Conditions form a small expression tree: leaves built by Match and Field,
// inner nodes built by All and Any.
type Cond[T any] interface {
	compile(c *compiler[T]) (func(T) bool, error)
}

// Match matches records equal to template on every field the template sets.
// Fields holding null or the zero value of their kind match anything.
func Match[T any](template T) Cond[T] {
	return matchCond[T]{template: template}
}

// Field compares the named field, found ignoring case, with value using op.
func Field[T any](name string, op Operator, value string) Cond[T] {
	return fieldCond[T]{name: name, op: op, value: value}
}

// All matches records matching every c. It matches everything when empty.
func All[T any](c ...Cond[T]) Cond[T] {
	return allCond[T](c)
}

// Any matches records matching at least one c. It matches nothing when empty.
func Any[T any](c ...Cond[T]) Cond[T] {
	return anyCond[T](c)
}

type matchCond[T any] struct {
	template T
}

type fieldCond[T any] struct {
	name  string
	op    Operator
	value string
}

type allCond[T any] []Cond[T]

type anyCond[T any] []Cond[T]

// compiler turns conditions into closures. Errors met while evaluating
// individual records are reported once per compiled condition.
type compiler[T any] struct {
	reg *schema.Registry[T]
	log *errors.Log
}

func (m matchCond[T]) compile(c *compiler[T]) (func(T) bool, error) {
	type term struct {
		get  func(T) any
		want string
	}
	var terms []term
	for _, f := range c.reg.Fields() {
		v := f.Get(m.template)
		if schema.IsZero(v) {
			continue
		}
		terms = append(terms, term{get: f.Get, want: schema.Format(v)})
	}
	return func(t T) bool {
		for _, x := range terms {
			if schema.Format(x.get(t)) != x.want {
				return false
			}
		}
		return true
	}, nil
}

func (f fieldCond[T]) compile(c *compiler[T]) (func(T) bool, error) {
	fd, ok := c.reg.Lookup(f.name)
	if !ok {
		return nil, errors.UnknownField(c.reg.Entity(), f.name)
	}
	pred, err := f.op.compile(f.value)
	if err != nil {
		return nil, err
	}
	reported := false
	return func(t T) bool {
		ok, err := pred(schema.Format(fd.Get(t)))
		if err != nil {
			if !reported {
				reported = true
				if e, isErr := err.(*errors.Error); isErr {
					e.WithDetail("field", fd.Name)
				}
				c.log.Add(err)
			}
			return false
		}
		return ok
	}, nil
}

func (a allCond[T]) compile(c *compiler[T]) (func(T) bool, error) {
	fns, err := compileAll(c, a)
	if err != nil {
		return nil, err
	}
	return func(t T) bool {
		for _, fn := range fns {
			if !fn(t) {
				return false
			}
		}
		return true
	}, nil
}

func (a anyCond[T]) compile(c *compiler[T]) (func(T) bool, error) {
	fns, err := compileAll(c, a)
	if err != nil {
		return nil, err
	}
	return func(t T) bool {
		for _, fn := range fns {
			if fn(t) {
				return true
			}
		}
		return false
	}, nil
}

func compileAll[T any](c *compiler[T], conds []Cond[T]) ([]func(T) bool, error) {
	fns := make([]func(T) bool, 0, len(conds))
	for _, x := range conds {
		fn, err := x.compile(c)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}
