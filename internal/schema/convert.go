package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/maruel/recdb/internal/errors"
	"golang.org/x/text/cases"
)

// Conversion between raw text, driver values and the Go type of each Kind.
//
//	Kind    Go type   from text          from JSON / SQLite
//	Text    string    as is              numbers and bools formatted
//	Int     int       strconv.Atoi       whole float64, int64, numeric string
//	Float   float32   ParseFloat(32)     any number, numeric string
//	Double  float64   ParseFloat(64)     any number, numeric string
//	Bool    bool      strconv.ParseBool  bool, 0/1 integer, "true"/"false"
//
// Empty text converts to nil for every kind but Text.

// Parse converts raw text into the Go type of kind.
func Parse(kind Kind, raw string) (any, error) {
	if kind == Text {
		return raw, nil
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	var v any
	var err error
	switch kind {
	case Int:
		v, err = strconv.Atoi(s)
	case Float:
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		v = float32(f)
	case Double:
		v, err = strconv.ParseFloat(s, 64)
	case Bool:
		v, err = strconv.ParseBool(s)
	default:
		return nil, errors.Newf(errors.ErrFormat, "unsupported kind %s", kind)
	}
	if err != nil {
		return nil, errors.Newf(errors.ErrFormat, "cannot convert %q to %s", raw, kind).
			WithDetail("value", raw).
			Wrap(err)
	}
	return v, nil
}

// Coerce converts a value produced by a decoder or database driver into the
// Go type of kind.
func Coerce(kind Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case string:
		return Parse(kind, x)
	case []byte:
		return Parse(kind, string(x))
	case json.Number:
		return Parse(kind, x.String())
	}
	switch kind {
	case Text:
		return Format(v), nil
	case Int:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case int32:
			return int(x), nil
		case float64:
			if isInt(x) {
				return int(x), nil
			}
		case float32:
			if f := float64(x); isInt(f) {
				return int(f), nil
			}
		case bool:
			if x {
				return 1, nil
			}
			return 0, nil
		}
	case Float:
		if f, ok := toFloat(v); ok {
			return float32(f), nil
		}
	case Double:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case int:
			return x != 0, nil
		case float64:
			return x != 0, nil
		}
	}
	return nil, errors.Newf(errors.ErrFormat, "cannot convert %T %v to %s", v, v, kind).WithDetail("value", v)
}

// isInt reports whether f is a whole number representable as an int.
func isInt(f float64) bool {
	return f == math.Trunc(f) && f >= float64(math.MinInt) && f < -float64(math.MinInt)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	}
	return 0, false
}

// Format returns the canonical string form of a field value. It is the form
// used for comparisons and for text export.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// IsNull reports whether v is nil or the empty string.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// IsZero reports whether v is null or the zero value of its type.
func IsZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case int64:
		return x == 0
	case int32:
		return x == 0
	case float32:
		return x == 0
	case float64:
		return x == 0
	case bool:
		return !x
	}
	return false
}

// Fold returns s case-folded for caseless comparison.
func Fold(s string) string {
	return cases.Fold().String(s)
}
