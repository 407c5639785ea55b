package table

import (
	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/schema"
)

// Result is the outcome of validating one candidate record.
type Result struct {
	Errors []*errors.Error
}

// OK reports whether the candidate passed every check.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Validate checks candidate against the constraints declared in reg.
//
// PrimaryKey and Unique values are compared against every record of rows
// except the one at index skip (use -1 to compare against all of them).
// Every failure is collected; the entity must also declare exactly one
// primary key for any candidate to pass.
func Validate[T any](reg *schema.Registry[T], candidate T, rows []T, skip int) Result {
	var res Result
	if n := reg.PrimaryKeyCount(); n != 1 {
		res.Errors = append(res.Errors, errors.InvalidPrimaryKeyCardinality(reg.Entity(), n))
	}
	for _, f := range reg.Fields() {
		v := f.Get(candidate)
		null := schema.IsNull(v)
		if null && f.Constraints&(schema.PrimaryKey|schema.NotNull) != 0 {
			res.Errors = append(res.Errors, errors.MissingValue(f.Name))
			continue
		}
		if null || f.Constraints&(schema.PrimaryKey|schema.Unique) == 0 {
			continue
		}
		want := schema.Format(v)
		for i, row := range rows {
			if i == skip {
				continue
			}
			if schema.Format(f.Get(row)) == want {
				res.Errors = append(res.Errors, errors.DuplicateValue(f.Name, v))
				break
			}
		}
	}
	return res
}
