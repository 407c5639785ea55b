package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/schema"
)

// Operator compares the canonical string of a field with an argument.
type Operator int

// Operators.
const (
	Contains Operator = iota
	NotContains
	Equals
	NotEquals
	EqualsIgnoreCase
	NotEqualsIgnoreCase
	Between
	NotBetween
	In
	NotIn
)

var operatorNames = [...]string{
	Contains:            "CONTAINS",
	NotContains:         "NOT_CONTAINS",
	Equals:              "EQUALS",
	NotEquals:           "NOT_EQUALS",
	EqualsIgnoreCase:    "EQUALS_IGNORE_CASE",
	NotEqualsIgnoreCase: "NOT_EQUALS_IGNORE_CASE",
	Between:             "BETWEEN",
	NotBetween:          "NOT_BETWEEN",
	In:                  "IN",
	NotIn:               "NOT_IN",
}

func (o Operator) String() string {
	if o >= 0 && int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// ParseOperator returns the operator named s. Case, spaces and dashes are
// ignored, so "not between" and "NOT-BETWEEN" both name NotBetween. "=" and
// "!=" are accepted for Equals and NotEquals.
func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case "=", "==":
		return Equals, nil
	case "!=", "<>":
		return NotEquals, nil
	}
	name := strings.ToUpper(strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_"))
	for i, n := range operatorNames {
		if n == name {
			return Operator(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Operator) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operator) UnmarshalText(b []byte) error {
	v, err := ParseOperator(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

var betweenSep = regexp.MustCompile(`(?i)\s*and\s*`)

// predicate evaluates an operator against one canonical field value. A non-nil
// error means the value could not be interpreted for this operator.
type predicate func(v string) (bool, error)

// compile parses arg once for op.
func (o Operator) compile(arg string) (predicate, error) {
	switch o {
	case Contains, NotContains:
		needle := schema.Fold(arg)
		neg := o == NotContains
		return func(v string) (bool, error) {
			return strings.Contains(schema.Fold(v), needle) != neg, nil
		}, nil
	case Equals, NotEquals:
		neg := o == NotEquals
		return func(v string) (bool, error) {
			return (v == arg) != neg, nil
		}, nil
	case EqualsIgnoreCase, NotEqualsIgnoreCase:
		want := schema.Fold(arg)
		neg := o == NotEqualsIgnoreCase
		return func(v string) (bool, error) {
			return (schema.Fold(v) == want) != neg, nil
		}, nil
	case Between, NotBetween:
		lo, hi, err := parseRange(arg)
		if err != nil {
			return nil, err
		}
		neg := o == NotBetween
		return func(v string) (bool, error) {
			x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return false, errors.Newf(errors.ErrFormat, "%q is not a number", v).WithDetail("value", v)
			}
			if neg {
				return x <= lo || x >= hi, nil
			}
			return lo <= x && x <= hi, nil
		}, nil
	case In, NotIn:
		set, err := parseList(arg)
		if err != nil {
			return nil, err
		}
		neg := o == NotIn
		return func(v string) (bool, error) {
			_, ok := set[v]
			return ok != neg, nil
		}, nil
	}
	return nil, errors.Newf(errors.ErrFormat, "unsupported operator %s", o)
}

// parseRange parses "<lo> and <hi>".
func parseRange(arg string) (float64, float64, error) {
	parts := betweenSep.Split(strings.TrimSpace(arg), -1)
	if len(parts) != 2 {
		return 0, 0, errors.Newf(errors.ErrFormat, "range %q must look like \"<lo> and <hi>\"", arg).WithDetail("value", arg)
	}
	lo, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, errors.Newf(errors.ErrFormat, "range %q: invalid lower bound", arg).WithDetail("value", arg).Wrap(err)
	}
	hi, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, errors.Newf(errors.ErrFormat, "range %q: invalid upper bound", arg).WithDetail("value", arg).Wrap(err)
	}
	return lo, hi, nil
}

// parseList splits a comma separated list. Double quoted items may contain
// commas; the quotes are removed.
func parseList(arg string) (map[string]struct{}, error) {
	r := csv.NewReader(strings.NewReader(arg))
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	items, err := r.Read()
	if err == io.EOF {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, errors.Newf(errors.ErrFormat, "invalid list %q", arg).WithDetail("value", arg).Wrap(err)
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.TrimSpace(it)] = struct{}{}
	}
	return set, nil
}
