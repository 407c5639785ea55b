package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/maruel/recdb/internal/schema"
	"github.com/maruel/recdb/internal/table"
	"gopkg.in/yaml.v3"
)

// Query is a filter chain: steps run in order, then the optional limit.
type Query struct {
	Version int          `yaml:"version"`
	Steps   []Step       `yaml:"steps"`
	Limit   *LimitConfig `yaml:"limit,omitempty"`
}

// Step is one filter and how it combines with the previous result.
type Step struct {
	// Combine is "where" (default), "and" or "or".
	Combine      string `yaml:"combine,omitempty"`
	FilterConfig `yaml:",inline"`
}

// FilterConfig defines a filter condition. Exactly one of the field
// comparison, Match, All or Any is set.
type FilterConfig struct {
	Field    string         `yaml:"field,omitempty"`
	Operator string         `yaml:"operator,omitempty"`
	Value    any            `yaml:"value,omitempty"`
	Match    map[string]any `yaml:"match,omitempty"`
	All      []FilterConfig `yaml:"all,omitempty"`
	Any      []FilterConfig `yaml:"any,omitempty"`
}

// LimitConfig selects the 1-based inclusive range [First, Last] of the result.
type LimitConfig struct {
	First int `yaml:"first"`
	Last  int `yaml:"last"`
}

// ParseQuery reads and parses a query manifest from a file.
func ParseQuery(path string) (*Query, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-specified manifest path
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseQueryBytes(data)
}

// ParseQueryBytes parses a query manifest from bytes.
func ParseQueryBytes(data []byte) (*Query, error) {
	var q Query
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &q, nil
}

// Validate checks that the manifest is valid.
func (q *Query) Validate() error {
	if q.Version != 1 {
		return fmt.Errorf("unsupported manifest version: %d", q.Version)
	}
	for i := range q.Steps {
		s := &q.Steps[i]
		if _, err := s.Combinator(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := s.FilterConfig.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Combinator returns the table combinator named by Combine.
func (s *Step) Combinator() (table.Combinator, error) {
	switch strings.ToLower(s.Combine) {
	case "", "where":
		return table.Refine, nil
	case "and":
		return table.And, nil
	case "or":
		return table.Or, nil
	}
	return 0, fmt.Errorf("invalid combine %q", s.Combine)
}

// Validate checks that exactly one kind of condition is set.
func (f *FilterConfig) Validate() error {
	n := 0
	if f.Field != "" {
		n++
		if _, err := table.ParseOperator(f.Operator); err != nil {
			return fmt.Errorf("field %s: %w", f.Field, err)
		}
	}
	if f.Match != nil {
		n++
	}
	if f.All != nil {
		n++
	}
	if f.Any != nil {
		n++
	}
	if n != 1 {
		return errors.New("exactly one of field, match, all or any is required")
	}
	for i := range f.All {
		if err := f.All[i].Validate(); err != nil {
			return fmt.Errorf("all %d: %w", i, err)
		}
	}
	for i := range f.Any {
		if err := f.Any[i].Validate(); err != nil {
			return fmt.Errorf("any %d: %w", i, err)
		}
	}
	return nil
}

// Cond builds the condition for entities described by reg.
func Cond[T any](f *FilterConfig, reg *schema.Registry[T]) (table.Cond[T], error) {
	switch {
	case f.Field != "":
		op, err := table.ParseOperator(f.Operator)
		if err != nil {
			return nil, err
		}
		return table.Field[T](f.Field, op, argument(f.Value)), nil
	case f.Match != nil:
		var tpl T
		for k, v := range f.Match {
			fd, ok := reg.Lookup(k)
			if !ok {
				return nil, fmt.Errorf("match: %s has no field %q", reg.Entity(), k)
			}
			if v == nil {
				// Null matches anything.
				continue
			}
			if err := fd.Assign(&tpl, v); err != nil {
				return nil, fmt.Errorf("match: %w", err)
			}
		}
		return table.Match(tpl), nil
	case f.All != nil, f.Any != nil:
		src := f.All
		if f.Any != nil {
			src = f.Any
		}
		conds := make([]table.Cond[T], len(src))
		for i := range src {
			c, err := Cond(&src[i], reg)
			if err != nil {
				return nil, err
			}
			conds[i] = c
		}
		if f.Any != nil {
			return table.Any(conds...), nil
		}
		return table.All(conds...), nil
	}
	return nil, errors.New("empty filter")
}

// Run applies every step to q and returns the selected records.
func Run[T any](m *Query, q *table.Query[T]) ([]T, error) {
	reg := q.Table().Registry()
	for i := range m.Steps {
		s := &m.Steps[i]
		comb, err := s.Combinator()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		c, err := Cond(&s.FilterConfig, reg)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		q.Apply(comb, c)
	}
	if m.Limit != nil {
		return q.LimitRange(m.Limit.First, m.Limit.Last), nil
	}
	return q.ToList(), nil
}

// argument renders a YAML scalar or list as an operator argument. List items
// containing a comma or a quote are quoted.
func argument(v any) string {
	items, ok := v.([]any)
	if !ok {
		return schema.Format(v)
	}
	parts := make([]string, len(items))
	for i, it := range items {
		s := schema.Format(it)
		if strings.ContainsAny(s, `,"`) {
			s = `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
		}
		parts[i] = s
	}
	return strings.Join(parts, ",")
}
