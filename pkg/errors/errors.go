// Package errors provides structured error handling for Tabflow.
// It implements coded errors with context so the orchestrator can decide
// which failures are fatal to an invocation and which are retryable.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Event errors (1xx)
	CodeEventSkipped   Code = "E101"
	CodeEventMalformed Code = "E102"

	// Fetch errors (2xx)
	CodeFetchFailed Code = "E201"
	CodeEmptyObject Code = "E202"

	// Parse errors (3xx)
	CodeParseFailed       Code = "E301"
	CodeUnsupportedFormat Code = "E302"

	// Reconciliation errors (4xx)
	CodeReconcileFailed   Code = "E401"
	CodeInvalidIdentifier Code = "E402"

	// Write errors (5xx)
	CodeBatchWriteFailed Code = "E501"
	CodeSchemaCacheStale Code = "E502"
	CodeWriteTimeout     Code = "E503"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all Tabflow errors.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if retrying the failed operation can succeed
// without any state change on our side. A stale PostgREST schema cache
// (PGRST205) resolves itself once the cache reloads; timeouts may clear.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeSchemaCacheStale, CodeWriteTimeout:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error must abort the invocation.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeFetchFailed, CodeReconcileFailed:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors, one per failed batch.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
