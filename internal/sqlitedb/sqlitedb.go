// Package sqlitedb stores records in a SQLite database file, one table per
// entity, rows kept in insertion order.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/schema"
	"github.com/maruel/recdb/internal/table"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Open opens or creates the database at path.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.IO("create directory for", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.IO("open", path, err)
	}
	return db, nil
}

// Save replaces the table of reg's entity with rows in a single transaction.
func Save[T any](ctx context.Context, db *sql.DB, reg *schema.Registry[T], rows []T) (retErr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	name := quote(reg.Entity())
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("drop %s: %w", reg.Entity(), err)
	}
	fields := reg.Fields()
	defs := make([]string, len(fields))
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quote(f.Name)
		defs[i] = cols[i] + " " + sqlType(f.Kind)
		marks[i] = "?"
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+name+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("create %s: %w", reg.Entity(), err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+name+" ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	args := make([]any, len(fields))
	for n, row := range rows {
		for i, f := range fields {
			args[i] = f.Get(row)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert record %d: %w", n+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads every row of reg's entity table in insertion order. Only the
// columns matching a field are read. A missing table holds no records.
func Load[T any](ctx context.Context, db *sql.DB, reg *schema.Registry[T]) ([]table.Entry[T], error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, reg.Entity()).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", reg.Entity(), err)
	}
	if exists == 0 {
		return nil, nil
	}
	present, err := columns(ctx, db, reg.Entity())
	if err != nil {
		return nil, err
	}
	var fields, absent []schema.Field[T]
	var cols []string
	for _, f := range reg.Fields() {
		if present[schema.Fold(f.Name)] {
			fields = append(fields, f)
			cols = append(cols, quote(f.Name))
		} else {
			absent = append(absent, f)
		}
	}
	if len(fields) == 0 {
		return nil, errors.Format("table " + reg.Entity() + " has no known column")
	}
	rs, err := db.QueryContext(ctx, "SELECT "+strings.Join(cols, ", ")+" FROM "+quote(reg.Entity())+" ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", reg.Entity(), err)
	}
	defer func() { _ = rs.Close() }()

	var out []table.Entry[T]
	vals := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for line := 1; rs.Next(); line++ {
		if err := rs.Scan(ptrs...); err != nil {
			return out, fmt.Errorf("scan: %w", err)
		}
		var v T
		for i, f := range fields {
			if err := f.Assign(&v, vals[i]); err != nil {
				return out, errors.Format("invalid value").WithDetail("field", f.Name).AtRow(line).Wrap(err)
			}
		}
		for _, f := range absent {
			if err := f.Assign(&v, nil); err != nil {
				return out, errors.Format("missing column").WithDetail("field", f.Name).AtRow(line).Wrap(err)
			}
		}
		out = append(out, table.Entry[T]{Line: line, Record: v})
	}
	if err := rs.Err(); err != nil {
		return out, fmt.Errorf("iterate %s: %w", reg.Entity(), err)
	}
	return out, nil
}

// columns returns the folded names of the columns of table name.
func columns(ctx context.Context, db *sql.DB, name string) (map[string]bool, error) {
	rs, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", name)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", name, err)
	}
	defer func() { _ = rs.Close() }()
	out := map[string]bool{}
	for rs.Next() {
		var c string
		if err := rs.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[schema.Fold(c)] = true
	}
	return out, rs.Err()
}

func sqlType(k schema.Kind) string {
	switch k {
	case schema.Int, schema.Bool:
		return "INTEGER"
	case schema.Float, schema.Double:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
