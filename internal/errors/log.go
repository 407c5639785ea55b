package errors

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
)

// Log accumulates diagnostics in the order they were recorded.
//
// Once anything was added, HasErrors stays true until Reset. A nil *Log
// silently discards everything.
type Log struct {
	mu     sync.Mutex
	logger *slog.Logger
	errs   []error
}

// NewLog returns an empty Log that also emits each entry to logger at Warn
// level. A nil logger means slog.Default().
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Add records err. Nil errors are ignored.
func (l *Log) Add(err error) {
	if l == nil || err == nil {
		return
	}
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()

	logger := l.logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.String("err", err.Error())}
	var e *Error
	if stderrors.As(err, &e) {
		attrs = append(attrs, slog.String("code", string(e.code)))
		for _, k := range []string{"field", "value", "row", "path"} {
			if v, ok := e.details[k]; ok {
				attrs = append(attrs, slog.Any(k, v))
			}
		}
	}
	logger.LogAttrs(context.Background(), slog.LevelWarn, "recorded error", attrs...)
}

// Errors returns a copy of the recorded errors.
func (l *Log) Errors() []error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.errs))
	copy(out, l.errs)
	return out
}

// Messages returns the recorded error messages.
func (l *Log) Messages() []string {
	errs := l.Errors()
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

// Len returns the number of recorded errors.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

// HasErrors reports whether any error was ever recorded since the last Reset.
func (l *Log) HasErrors() bool {
	return l.Len() != 0
}

// Count returns how many recorded errors carry code.
func (l *Log) Count(code ErrorCode) int {
	n := 0
	for _, err := range l.Errors() {
		if HasCode(err, code) {
			n++
		}
	}
	return n
}

// Err joins every recorded error, or returns nil.
func (l *Log) Err() error {
	return stderrors.Join(l.Errors()...)
}

// Reset forgets every recorded error.
func (l *Log) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.errs = nil
	l.mu.Unlock()
}
