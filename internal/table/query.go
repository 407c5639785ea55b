package table

import (
	"slices"

	"github.com/maruel/recdb/internal/errors"
)

// Combinator tells how a filter combines with the result accumulated so far.
type Combinator int

const (
	// Refine filters the pool the previous plain filter ran against, dropping
	// the previous result.
	Refine Combinator = iota
	// And keeps only previous results that also match.
	And
	// Or adds matches from the whole table to the previous results.
	Or
)

func (c Combinator) String() string {
	switch c {
	case Refine:
		return "refine"
	case And:
		return "and"
	case Or:
		return "or"
	}
	return "unknown"
}

// Query is a filter chain over a Table.
//
// The first filter of a chain always runs against the whole table, whatever
// its combinator. Results never hold the same record twice and keep table
// order, except that Or appends its new matches after the previous results.
//
// A Query is not safe for concurrent use. Deleting or replacing records of the
// table through another path restarts the chain.
type Query[T any] struct {
	t       *Table[T]
	gen     uint64
	started bool
	pool    []int // row positions the next Refine filter runs against
	result  []int // row positions matched so far
}

// Table returns the table the query runs against.
func (q *Query[T]) Table() *Table[T] {
	return q.t
}

// Where filters with c, restarting from the pool of the previous plain filter.
func (q *Query[T]) Where(c Cond[T]) *Query[T] {
	return q.Apply(Refine, c)
}

// AndWhere intersects the current result with the records matching c.
func (q *Query[T]) AndWhere(c Cond[T]) *Query[T] {
	return q.Apply(And, c)
}

// OrWhere adds to the current result every record of the table matching c.
func (q *Query[T]) OrWhere(c Cond[T]) *Query[T] {
	return q.Apply(Or, c)
}

// Apply runs c against the pool selected by comb and combines its matches
// with the current result.
//
// A condition that cannot be evaluated, for example a Field naming an unknown
// field, is recorded in the table log and matches nothing.
func (q *Query[T]) Apply(comb Combinator, c Cond[T]) *Query[T] {
	q.t.mu.RLock()
	defer q.t.mu.RUnlock()
	if q.gen != q.t.gen {
		q.t.logger.Debug("query restarted: table changed", "entity", q.t.reg.Entity())
		q.resetLocked()
	}
	match, err := c.compile(&compiler[T]{reg: q.t.reg, log: q.t.log})
	if err != nil {
		q.t.log.Add(err)
		match = func(T) bool { return false }
	}
	rows := q.t.rows
	if !q.started {
		q.started = true
		q.pool = allPositions(len(rows))
		q.result = filter(rows, q.pool, match)
		return q
	}
	switch comb {
	case And:
		q.pool = q.result
		q.result = filter(rows, q.pool, match)
	case Or:
		q.pool = allPositions(len(rows))
		for _, i := range filter(rows, q.pool, match) {
			if !slices.Contains(q.result, i) {
				q.result = append(q.result, i)
			}
		}
	default:
		q.result = filter(rows, q.pool, match)
	}
	return q
}

// Limit returns the first n records of the current result.
func (q *Query[T]) Limit(n int) []T {
	return q.LimitRange(1, n)
}

// LimitRange returns the records at 1-based positions first through last
// inclusive of the current result, or of the whole table when no filter ran.
//
// first below 1 becomes 1, a negative last becomes 1 and last past the end is
// clamped. The slice is empty when first ends up past last.
//
// On an empty table it records EMPTY_STORE, like ToList.
func (q *Query[T]) LimitRange(first, last int) []T {
	q.t.mu.RLock()
	defer q.t.mu.RUnlock()
	if len(q.t.rows) == 0 {
		q.t.log.Add(errors.EmptyStore(q.t.reg.Entity()))
		return []T{}
	}
	cur := q.currentLocked()
	if first <= 0 {
		first = 1
	}
	if last < 0 {
		last = 1
	}
	if last > len(cur) {
		last = len(cur)
	}
	if first > last {
		return []T{}
	}
	return q.materialize(cur[first-1 : last])
}

// ToList returns the current result, or every record when no filter ran.
//
// On an empty table it records EMPTY_STORE and returns nil.
func (q *Query[T]) ToList() []T {
	q.t.mu.RLock()
	defer q.t.mu.RUnlock()
	if len(q.t.rows) == 0 {
		q.t.log.Add(errors.EmptyStore(q.t.reg.Entity()))
		return nil
	}
	return q.materialize(q.currentLocked())
}

// ToSingle returns the first record of the current result, or the first record
// of the table when no filter ran.
//
// On an empty table it records EMPTY_STORE and returns false.
func (q *Query[T]) ToSingle() (T, bool) {
	q.t.mu.RLock()
	defer q.t.mu.RUnlock()
	var zero T
	if len(q.t.rows) == 0 {
		q.t.log.Add(errors.EmptyStore(q.t.reg.Entity()))
		return zero, false
	}
	cur := q.currentLocked()
	if len(cur) == 0 {
		return zero, false
	}
	return q.t.rows[cur[0]], true
}

// Count returns the size of the current result.
func (q *Query[T]) Count() int {
	q.t.mu.RLock()
	defer q.t.mu.RUnlock()
	return len(q.currentLocked())
}

// Delete removes every record of the current result from the table and
// restarts the chain. It removes nothing when no filter ran. It returns the
// number of removed records.
func (q *Query[T]) Delete() int {
	q.t.mu.Lock()
	defer q.t.mu.Unlock()
	n := 0
	if q.started && q.gen == q.t.gen && len(q.result) != 0 {
		drop := make([]bool, len(q.t.rows))
		for _, i := range q.result {
			drop[i] = true
		}
		kept := q.t.rows[:0]
		for i, r := range q.t.rows {
			if !drop[i] {
				kept = append(kept, r)
			}
		}
		n = len(q.t.rows) - len(kept)
		clear(q.t.rows[len(kept):])
		q.t.rows = kept
		q.t.gen++
	}
	q.resetLocked()
	return n
}

// Reset restarts the chain.
func (q *Query[T]) Reset() *Query[T] {
	q.t.mu.RLock()
	defer q.t.mu.RUnlock()
	q.resetLocked()
	return q
}

func (q *Query[T]) resetLocked() {
	q.started = false
	q.pool = nil
	q.result = nil
	q.gen = q.t.gen
}

// currentLocked returns the positions limit and retrieval operate on.
func (q *Query[T]) currentLocked() []int {
	if q.gen != q.t.gen {
		q.resetLocked()
	}
	if !q.started {
		return allPositions(len(q.t.rows))
	}
	return q.result
}

func (q *Query[T]) materialize(pos []int) []T {
	out := make([]T, len(pos))
	for i, p := range pos {
		out[i] = q.t.rows[p]
	}
	return out
}

func allPositions(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func filter[T any](rows []T, pool []int, match func(T) bool) []int {
	var out []int
	for _, i := range pool {
		if match(rows[i]) {
			out = append(out, i)
		}
	}
	return out
}
