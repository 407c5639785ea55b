// Package errors defines structured error types for record stores and their adapters.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode defines specific error types.
type ErrorCode string

const (
	// ErrDuplicateValue is returned when a PrimaryKey or Unique field repeats an existing value
	ErrDuplicateValue ErrorCode = "DUPLICATE_VALUE"
	// ErrMissingValue is returned when a NotNull or PrimaryKey field is null or empty
	ErrMissingValue ErrorCode = "MISSING_VALUE"
	// ErrInvalidPrimaryKeyCardinality is returned when an entity declares zero or several primary keys
	ErrInvalidPrimaryKeyCardinality ErrorCode = "INVALID_PRIMARY_KEY_CARDINALITY"
	// ErrUnknownField is returned when a field name does not resolve in the registry
	ErrUnknownField ErrorCode = "UNKNOWN_FIELD"
	// ErrEmptyStore is returned when retrieving from a store holding no records
	ErrEmptyStore ErrorCode = "EMPTY_STORE"

	// ErrFormat is returned when a loader or exporter meets malformed data
	ErrFormat ErrorCode = "FORMAT_ERROR"
	// ErrIO is returned when a file operation fails
	ErrIO ErrorCode = "IO_FAILURE"
	// ErrNotSerializable is returned when the entity type cannot be encoded as a binary blob
	ErrNotSerializable ErrorCode = "NOT_SERIALIZABLE"
	// ErrUnsavedErrors is returned when a save is refused because errors were recorded
	ErrUnsavedErrors ErrorCode = "UNSAVED_ERRORS"
)

// Error is a concrete error type with a code, a message and optional details.
type Error struct {
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		code:    code,
		message: message,
		details: make(map[string]any),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	for k, v := range details {
		e.details[k] = v
	}
	return e
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// AtRow tags the error with the source row it was raised for.
func (e *Error) AtRow(row int) *Error {
	e.message = fmt.Sprintf("row %d: %s", row, e.message)
	return e.WithDetail("row", row)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// HasCode reports whether err, or any error it wraps, is an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.code == code {
			return true
		}
		err = e.wrappedErr
	}
	return false
}

// Predefined error constructors for common cases

// DuplicateValue reports that field already holds value in another record.
func DuplicateValue(field string, value any) *Error {
	return Newf(ErrDuplicateValue, "duplicate entry: field %s = %v already exists", field, value).
		WithDetail("field", field).
		WithDetail("value", value)
}

// MissingValue reports that field is null or empty.
func MissingValue(field string) *Error {
	return Newf(ErrMissingValue, "field %s can't be null or empty", field).WithDetail("field", field)
}

// InvalidPrimaryKeyCardinality reports that entity declares count primary keys instead of one.
func InvalidPrimaryKeyCardinality(entity string, count int) *Error {
	return Newf(ErrInvalidPrimaryKeyCardinality, "%s declares %d primary keys, exactly one is required", entity, count).
		WithDetail("entity", entity).
		WithDetail("count", count)
}

// UnknownField reports that name is not a field of entity.
func UnknownField(entity, name string) *Error {
	return Newf(ErrUnknownField, "%s has no field %q", entity, name).
		WithDetail("entity", entity).
		WithDetail("field", name)
}

// EmptyStore reports a retrieval from a store without records.
func EmptyStore(entity string) *Error {
	return Newf(ErrEmptyStore, "%s store is empty", entity).WithDetail("entity", entity)
}

// Format reports malformed input or output data.
func Format(message string) *Error {
	return New(ErrFormat, message)
}

// IO reports a failed file operation on path.
func IO(op, path string, err error) *Error {
	return Newf(ErrIO, "failed to %s %s", op, path).WithDetail("path", path).Wrap(err)
}

// NotSerializable reports that values of typeName cannot be encoded as a binary blob.
func NotSerializable(typeName string, err error) *Error {
	return Newf(ErrNotSerializable, "%s is not serializable", typeName).WithDetail("type", typeName).Wrap(err)
}

// UnsavedErrors reports a refused save while count errors are recorded.
func UnsavedErrors(count int) *Error {
	return Newf(ErrUnsavedErrors, "refusing to save: %d error(s) recorded", count).WithDetail("count", count)
}
