// Package csvio reads and writes records as delimited text with a header row.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/schema"
	"github.com/maruel/recdb/internal/table"
)

// Option configures Read and Write.
type Option func(*config)

type config struct {
	comma rune
}

// WithDelimiter sets the field delimiter. The default is a comma.
func WithDelimiter(r rune) Option {
	return func(c *config) {
		if r != 0 {
			c.comma = r
		}
	}
}

func newConfig(opts []Option) config {
	c := config{comma: ','}
	for _, o := range opts {
		o(&c)
	}
	return c
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// Normalize turns a column title into a field identifier: spaces are removed,
// letters lowered and any other non alphanumeric character becomes '_'.
func Normalize(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	return nonAlnum.ReplaceAllString(schema.Fold(s), "_")
}

// Read decodes every data row of r into a record of reg.
//
// Columns are matched to fields by normalized name; a column matching no
// field is an error. Fields without a column keep their zero value.
//
// The returned names hold, for each field of reg in order, the column title
// as written in the source, or the field name when absent.
//
// The first row that cannot be decoded stops the read: the records decoded
// before it are returned along with the error.
func Read[T any](r io.Reader, reg *schema.Registry[T], opts ...Option) ([]table.Entry[T], []string, error) {
	c := newConfig(opts)
	cr := csv.NewReader(r)
	cr.Comma = c.comma
	cr.TrimLeadingSpace = true

	title, err := cr.Read()
	if err == io.EOF {
		return nil, reg.Names(), nil
	}
	if err != nil {
		return nil, nil, errors.Format("invalid header").AtRow(1).Wrap(err)
	}
	fields := reg.Fields()
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[Normalize(f.Name)] = i
	}
	names := reg.Names()
	columns := make([]int, len(title))
	present := make([]bool, len(fields))
	for i, t := range title {
		j, ok := byName[Normalize(t)]
		if !ok {
			return nil, nil, errors.UnknownField(reg.Entity(), t).AtRow(1)
		}
		columns[i] = j
		present[j] = true
		names[j] = strings.TrimSpace(t)
	}

	var out []table.Entry[T]
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, names, nil
		}
		if err != nil {
			e := errors.Format("malformed row").Wrap(err)
			if pe, ok := err.(*csv.ParseError); ok {
				e.AtRow(pe.Line)
			}
			return out, names, e
		}
		line, _ := cr.FieldPos(0)
		var v T
		// A field without a column is null.
		for j, f := range fields {
			if present[j] {
				continue
			}
			if err := f.Assign(&v, nil); err != nil {
				return out, names, errors.Newf(errors.ErrFormat, "no column for %s", f.Name).
					WithDetail("field", f.Name).
					AtRow(line).
					Wrap(err)
			}
		}
		for i, raw := range rec {
			f := fields[columns[i]]
			if err := f.Assign(&v, raw); err != nil {
				return out, names, errors.Newf(errors.ErrFormat, "column %s: cannot convert %q to %s", title[i], raw, f.Kind).
					WithDetail("field", f.Name).
					WithDetail("value", raw).
					AtRow(line).
					Wrap(err)
			}
		}
		out = append(out, table.Entry[T]{Line: line, Record: v})
	}
}

// Write encodes rows with a header row. names overrides the column titles
// when it holds one title per field. Values containing the delimiter, a quote
// or a line break are quoted.
func Write[T any](w io.Writer, reg *schema.Registry[T], rows []T, names []string, opts ...Option) error {
	c := newConfig(opts)
	cw := csv.NewWriter(w)
	cw.Comma = c.comma
	if len(names) != reg.Len() {
		names = reg.Names()
	}
	if err := cw.Write(names); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, r := range rows {
		if err := cw.Write(reg.Values(r)); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
