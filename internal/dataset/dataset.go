// Package dataset binds a record table to a data file: it loads the table from
// the file, saves it back in the same format and exports it to other formats.
package dataset

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maruel/recdb/internal/csvio"
	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/history"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/schema"
	"github.com/maruel/recdb/internal/snapshot"
	"github.com/maruel/recdb/internal/sqlitedb"
	"github.com/maruel/recdb/internal/table"
)

// Format is a data file encoding.
type Format string

// Supported formats.
const (
	CSV    Format = "csv"
	JSONL  Format = "jsonl"
	Binary Format = "bin"
	SQLite Format = "sqlite"
)

// FormatFor returns the format implied by the extension of path.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return CSV, nil
	case ".jsonl", ".ndjson":
		return JSONL, nil
	case ".bin", ".gob", ".ser":
		return Binary, nil
	case ".db", ".sqlite", ".sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("cannot infer format of %s", path)
}

// ParseFormat returns the format named s.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case CSV, JSONL, Binary, SQLite:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Options configures a Dataset.
type Options struct {
	// Format overrides the format inferred from the file extension.
	Format Format
	// Delimiter is the CSV field delimiter; 0 means a comma.
	Delimiter rune
	// SkipValidation admits loaded rows without constraint checks.
	SkipValidation bool
	// History, when set, records every saved file.
	History *history.Repo
	// ReloadInterval is the minimum delay between two reloads in Watch.
	// Defaults to 500ms.
	ReloadInterval time.Duration
	Logger         *slog.Logger
}

// Dataset is a table loaded from, and saved to, one file.
type Dataset[T any] struct {
	tbl    *table.Table[T]
	path   string
	format Format
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	names []string // column titles as found in the source
}

// New returns an empty dataset of entities described by reg, bound to path.
func New[T any](reg *schema.Registry[T], path string, opts Options) (*Dataset[T], error) {
	format := opts.Format
	if format == "" {
		var err error
		if format, err = FormatFor(path); err != nil {
			return nil, err
		}
	}
	if format == CSV && opts.Delimiter == 0 && strings.EqualFold(filepath.Ext(path), ".tsv") {
		opts.Delimiter = '\t'
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = 500 * time.Millisecond
	}
	logger := opts.Logger.With("entity", reg.Entity(), "path", path)
	return &Dataset[T]{
		tbl:    table.New(reg, table.WithLogger(logger)),
		path:   path,
		format: format,
		opts:   opts,
		logger: logger,
	}, nil
}

// Table returns the underlying table.
func (d *Dataset[T]) Table() *table.Table[T] {
	return d.tbl
}

// Log returns the error log shared by the dataset and its table.
func (d *Dataset[T]) Log() *errors.Log {
	return d.tbl.Log()
}

// Path returns the bound file.
func (d *Dataset[T]) Path() string {
	return d.path
}

// Format returns the format of the bound file.
func (d *Dataset[T]) Format() Format {
	return d.format
}

// Columns returns the column titles used when writing text formats.
func (d *Dataset[T]) Columns() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.names == nil {
		return d.tbl.Registry().Names()
	}
	return append([]string(nil), d.names...)
}

// Load replaces the table content with the records of the bound file.
//
// Rows failing validation are skipped and recorded. A decoding failure stops
// the load: rows read before it are kept, and the failure is both recorded
// and returned.
func (d *Dataset[T]) Load(ctx context.Context) error {
	start := time.Now()
	n, err := d.load(ctx)
	if err != nil {
		d.Log().Add(err)
		return err
	}
	d.logger.InfoContext(ctx, "loaded", "records", n, "errors", d.Log().Len(), "dur", time.Since(start).Round(time.Millisecond))
	return nil
}

func (d *Dataset[T]) load(ctx context.Context) (int, error) {
	reg := d.tbl.Registry()
	lo := table.LoadOptions{SkipValidation: d.opts.SkipValidation}
	switch d.format {
	case CSV:
		f, err := os.Open(d.path)
		if err != nil {
			return 0, errors.IO("open", d.path, err)
		}
		defer func() { _ = f.Close() }()
		entries, names, err := csvio.Read(f, reg, csvio.WithDelimiter(d.opts.Delimiter))
		if names != nil {
			d.mu.Lock()
			d.names = names
			d.mu.Unlock()
		}
		return d.tbl.Load(entries, lo), err
	case JSONL:
		if _, err := os.Stat(d.path); err != nil {
			return 0, errors.IO("open", d.path, err)
		}
		f, err := jsonldb.Open(d.path, reg)
		if err != nil {
			return 0, errors.IO("open", d.path, err)
		}
		entries, err := f.Load()
		return d.tbl.Load(entries, lo), err
	case Binary:
		rows, err := snapshot.Load[T](d.path)
		if err != nil {
			return 0, err
		}
		d.tbl.Replace(rows)
		return len(rows), nil
	case SQLite:
		if _, err := os.Stat(d.path); err != nil {
			return 0, errors.IO("open", d.path, err)
		}
		db, err := sqlitedb.Open(d.path)
		if err != nil {
			return 0, err
		}
		defer func() { _ = db.Close() }()
		entries, err := sqlitedb.Load(ctx, db, reg)
		return d.tbl.Load(entries, lo), err
	}
	return 0, fmt.Errorf("unsupported format %q", d.format)
}

// Save writes the table back to the bound file in its format.
//
// It refuses with UNSAVED_ERRORS while the error log holds anything.
func (d *Dataset[T]) Save(ctx context.Context) error {
	return d.write(ctx, d.path, d.format)
}

// ExportTo writes the table to path in the format implied by its extension,
// under the same conditions as Save.
func (d *Dataset[T]) ExportTo(ctx context.Context, path string) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	return d.write(ctx, path, format)
}

func (d *Dataset[T]) write(ctx context.Context, path string, format Format) error {
	if n := d.Log().Len(); n != 0 {
		err := errors.UnsavedErrors(n)
		d.logger.WarnContext(ctx, "save refused", "target", path, "errors", n)
		return err
	}
	rows := d.tbl.Rows()
	if err := d.encode(ctx, path, format, rows); err != nil {
		d.Log().Add(err)
		return err
	}
	d.logger.InfoContext(ctx, "saved", "target", path, "format", format, "records", len(rows))
	return d.commit(ctx, path, fmt.Sprintf("save %s: %d records", d.tbl.Registry().Entity(), len(rows)))
}

// Add validates rec and appends it to the table and to the bound file. JSONL
// files are appended in place, other formats are rewritten whole.
//
// A record failing validation is recorded and returned, and nothing is
// written. Like Save, Add refuses while the error log holds anything.
func (d *Dataset[T]) Add(ctx context.Context, rec T) error {
	if n := d.Log().Len(); n != 0 {
		return errors.UnsavedErrors(n)
	}
	if res := d.tbl.Check(rec); !res.OK() {
		for _, err := range res.Errors {
			d.Log().Add(err)
		}
		return res.Errors[0]
	}
	if d.format != JSONL {
		if !d.tbl.Insert(rec) {
			return d.Log().Err()
		}
		return d.Save(ctx)
	}
	f, err := jsonldb.Open(d.path, d.tbl.Registry())
	if err != nil {
		return errors.IO("open", d.path, err)
	}
	if err := f.Append(rec); err != nil {
		d.Log().Add(err)
		return err
	}
	if !d.tbl.Insert(rec) {
		return d.Log().Err()
	}
	d.logger.InfoContext(ctx, "appended", "records", d.tbl.Len())
	return d.commit(ctx, d.path, fmt.Sprintf("add to %s: %d records", d.tbl.Registry().Entity(), d.tbl.Len()))
}

// Revisions lists up to n recorded versions of the bound file, newest first.
func (d *Dataset[T]) Revisions(ctx context.Context, n int) ([]history.Commit, error) {
	if d.opts.History == nil {
		return nil, errNoHistory
	}
	abs, err := filepath.Abs(d.path)
	if err != nil {
		return nil, err
	}
	return d.opts.History.Log(ctx, abs, n)
}

// Restore rewrites the bound file as it was at revision rev ("HEAD" for the
// last one), reloads it and records the restored version.
func (d *Dataset[T]) Restore(ctx context.Context, rev string) error {
	if d.opts.History == nil {
		return errNoHistory
	}
	abs, err := filepath.Abs(d.path)
	if err != nil {
		return err
	}
	data, err := d.opts.History.FileAt(ctx, rev, abs)
	if err != nil {
		return err
	}
	err = writeFile(d.path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return err
	}
	d.Log().Reset()
	if err := d.Load(ctx); err != nil {
		return err
	}
	return d.commit(ctx, d.path, fmt.Sprintf("restore %s to %s", d.tbl.Registry().Entity(), rev))
}

var errNoHistory = stderrors.New("no history configured")

// commit records path in the history, when configured.
func (d *Dataset[T]) commit(ctx context.Context, path, msg string) error {
	if d.opts.History == nil {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	h, err := d.opts.History.Record(ctx, msg, abs)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	if h != "" {
		d.logger.DebugContext(ctx, "recorded", "commit", h)
	}
	return nil
}

func (d *Dataset[T]) encode(ctx context.Context, path string, format Format, rows []T) error {
	reg := d.tbl.Registry()
	switch format {
	case CSV:
		names := d.Columns()
		comma := d.opts.Delimiter
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			comma = '\t'
		}
		return writeFile(path, func(w io.Writer) error {
			return csvio.Write(w, reg, rows, names, csvio.WithDelimiter(comma))
		})
	case JSONL:
		f, err := jsonldb.Open(path, reg)
		if err != nil {
			return errors.IO("create", path, err)
		}
		return f.Replace(rows)
	case Binary:
		return snapshot.Save(path, rows)
	case SQLite:
		db, err := sqlitedb.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return sqlitedb.Save(ctx, db, reg, rows)
	}
	return fmt.Errorf("unsupported format %q", format)
}

// writeFile writes path through a temporary file renamed into place, so a
// failed write leaves neither partial output nor a damaged previous file.
func writeFile(path string, fn func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.IO("create directory for", path, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.IO("create", path, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err := fn(f); err != nil {
		return errors.Format("failed to encode " + path).Wrap(err)
	}
	if err := f.Chmod(0o644); err != nil {
		return errors.IO("chmod", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return errors.IO("close", f.Name(), err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return errors.IO("rename", path, err)
	}
	return nil
}
