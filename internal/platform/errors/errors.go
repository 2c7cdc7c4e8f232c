// Package errors provides structured error handling for the login flow.
package errors

import "errors"

// Domain is the error domain for Signet errors.
const Domain = "github.com/louisbranch/signet"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the error kind for the error's code.
func (e *Error) Kind() Kind {
	return e.Code.ErrKind()
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the domain code from an error chain.
//
// Errors outside the domain report CodeUnknown so transport layers fail
// closed on an internal status rather than guessing.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// KindOf extracts the error kind from an error chain.
func KindOf(err error) Kind {
	return CodeOf(err).ErrKind()
}

// HTTPStatusOf maps an error chain to an HTTP response status.
func HTTPStatusOf(err error) int {
	return CodeOf(err).HTTPStatus()
}
