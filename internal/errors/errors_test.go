package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
)

func TestError(t *testing.T) {
	t.Run("constructors", func(t *testing.T) {
		tests := []struct {
			name string
			err  *Error
			code ErrorCode
		}{
			{"duplicate", DuplicateValue("email", "a@x.com"), ErrDuplicateValue},
			{"missing", MissingValue("name"), ErrMissingValue},
			{"cardinality", InvalidPrimaryKeyCardinality("Person", 2), ErrInvalidPrimaryKeyCardinality},
			{"unknown", UnknownField("Person", "age"), ErrUnknownField},
			{"empty", EmptyStore("Person"), ErrEmptyStore},
			{"format", Format("bad"), ErrFormat},
			{"io", IO("open", "x.csv", os.ErrNotExist), ErrIO},
			{"serializable", NotSerializable("chan int", nil), ErrNotSerializable},
			{"unsaved", UnsavedErrors(3), ErrUnsavedErrors},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if tt.err.Code() != tt.code {
					t.Errorf("Code() = %q, want %q", tt.err.Code(), tt.code)
				}
				if tt.err.Error() == "" {
					t.Error("Error() is empty")
				}
				if !HasCode(tt.err, tt.code) {
					t.Error("HasCode() = false")
				}
			})
		}
	})
	t.Run("details", func(t *testing.T) {
		err := DuplicateValue("email", "a@x.com")
		if got := err.Details()["field"]; got != "email" {
			t.Errorf("field = %v", got)
		}
		if got := err.Details()["value"]; got != "a@x.com" {
			t.Errorf("value = %v", got)
		}
	})
	t.Run("wrap", func(t *testing.T) {
		err := IO("open", "x.csv", os.ErrNotExist)
		if !stderrors.Is(err, os.ErrNotExist) {
			t.Error("errors.Is(err, os.ErrNotExist) = false")
		}
		wrapped := fmt.Errorf("load: %w", err)
		if !HasCode(wrapped, ErrIO) {
			t.Error("HasCode on wrapped error = false")
		}
		if HasCode(os.ErrNotExist, ErrIO) {
			t.Error("HasCode on plain error = true")
		}
		nested := Format("invalid record").Wrap(fmt.Errorf("field id: %w", MissingValue("id")))
		if !HasCode(nested, ErrFormat) || !HasCode(nested, ErrMissingValue) {
			t.Error("HasCode does not see every code of the chain")
		}
		if HasCode(nested, ErrIO) {
			t.Error("HasCode(nested, IO_FAILURE) = true")
		}
	})
}

func TestLog(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Run("accumulates", func(t *testing.T) {
		l := NewLog(logger)
		if l.HasErrors() {
			t.Fatal("new log has errors")
		}
		l.Add(nil)
		l.Add(MissingValue("name"))
		l.Add(DuplicateValue("id", 1))
		l.Add(MissingValue("email"))
		if got := l.Len(); got != 3 {
			t.Fatalf("Len() = %d, want 3", got)
		}
		if !l.HasErrors() {
			t.Error("HasErrors() = false")
		}
		if got := l.Count(ErrMissingValue); got != 2 {
			t.Errorf("Count(MISSING_VALUE) = %d, want 2", got)
		}
		msgs := l.Messages()
		if msgs[0] != "field name can't be null or empty" {
			t.Errorf("Messages()[0] = %q", msgs[0])
		}
		if err := l.Err(); !HasCode(err, ErrDuplicateValue) {
			t.Errorf("Err() does not carry DUPLICATE_VALUE: %v", err)
		}
		l.Reset()
		if l.HasErrors() || l.Err() != nil {
			t.Error("Reset() kept errors")
		}
	})
	t.Run("nil", func(t *testing.T) {
		var l *Log
		l.Add(MissingValue("x"))
		if l.HasErrors() || l.Len() != 0 || l.Errors() != nil {
			t.Error("nil log recorded something")
		}
		l.Reset()
	})
}
