// Package table implements an in-memory record store with constraint
// validation and a chainable filter engine.
package table

import (
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/schema"
)

// Table holds the ordered records of one entity type.
//
// Every mutation except Replace is gated by Validate. Failures are recorded in
// the table's error log and the mutation becomes a no-op.
type Table[T any] struct {
	reg    *schema.Registry[T]
	log    *errors.Log
	logger *slog.Logger

	mu   sync.RWMutex
	rows []T
	// gen changes whenever existing rows move, which invalidates the row
	// positions held by queries.
	gen uint64
}

// Option configures a Table.
type Option func(*options)

type options struct {
	log    *errors.Log
	logger *slog.Logger
}

// WithLog shares l between the table and other components.
func WithLog(l *errors.Log) Option {
	return func(o *options) { o.log = l }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns an empty table of entities described by reg.
func New[T any](reg *schema.Registry[T], opts ...Option) *Table[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.log == nil {
		o.log = errors.NewLog(o.logger)
	}
	return &Table[T]{reg: reg, log: o.log, logger: o.logger}
}

// Registry returns the field registry of the table.
func (t *Table[T]) Registry() *schema.Registry[T] {
	return t.reg
}

// Log returns the error log the table records into.
func (t *Table[T]) Log() *errors.Log {
	return t.log
}

// Len returns the number of records.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Rows returns a copy of all records in insertion order.
func (t *Table[T]) Rows() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.rows)
}

// All iterates over a snapshot of the records.
func (t *Table[T]) All() iter.Seq[T] {
	return slices.Values(t.Rows())
}

// Check validates candidate as if it were inserted now, without recording
// anything.
func (t *Table[T]) Check(candidate T) Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Validate(t.reg, candidate, t.rows, -1)
}

// Insert appends r if it passes validation.
func (t *Table[T]) Insert(r T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(r, 0)
}

func (t *Table[T]) insertLocked(r T, line int) bool {
	res := Validate(t.reg, r, t.rows, -1)
	if !res.OK() {
		t.record(res, line)
		return false
	}
	t.rows = append(t.rows, r)
	return true
}

// Update replaces the first record structurally equal to old with r, if r
// passes validation. The replaced record is ignored by uniqueness checks.
func (t *Table[T]) Update(old, r T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(old)
	if i < 0 {
		t.logger.Debug("update: record not found", "entity", t.reg.Entity())
		return false
	}
	res := Validate(t.reg, r, t.rows, i)
	if !res.OK() {
		t.record(res, 0)
		return false
	}
	t.rows[i] = r
	return true
}

// Delete removes the first record structurally equal to r.
func (t *Table[T]) Delete(r T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(r)
	if i < 0 {
		return false
	}
	t.rows = slices.Delete(t.rows, i, i+1)
	t.gen++
	return true
}

func (t *Table[T]) indexLocked(r T) int {
	return slices.IndexFunc(t.rows, func(x T) bool { return t.reg.Equal(x, r) })
}

// Replace swaps the whole content of the table without validation. Used to
// restore trusted snapshots.
func (t *Table[T]) Replace(rows []T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = slices.Clone(rows)
	t.gen++
}

// Entry is a decoded record with the line of the source it came from.
type Entry[T any] struct {
	Line   int
	Record T
}

// LoadOptions controls Load.
type LoadOptions struct {
	// SkipValidation admits every entry without checking constraints.
	SkipValidation bool
}

// Load replaces the content of the table with entries, validating each one
// against the entries admitted before it. Rejected entries are skipped and
// recorded with their line. It returns the number of admitted entries.
func (t *Table[T]) Load(entries []Entry[T], opts LoadOptions) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = make([]T, 0, len(entries))
	t.gen++
	for _, e := range entries {
		if opts.SkipValidation {
			t.rows = append(t.rows, e.Record)
			continue
		}
		t.insertLocked(e.Record, e.Line)
	}
	t.logger.Debug("loaded", "entity", t.reg.Entity(), "rows", len(t.rows), "rejected", len(entries)-len(t.rows))
	return len(t.rows)
}

// Query starts a new filter chain over the table.
func (t *Table[T]) Query() *Query[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Query[T]{t: t, gen: t.gen}
}

func (t *Table[T]) record(res Result, line int) {
	for _, err := range res.Errors {
		if line > 0 {
			err.AtRow(line)
		}
		t.log.Add(err)
	}
}
