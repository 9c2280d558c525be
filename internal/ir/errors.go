package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors surfaced by stores and the federation layer.
type ErrorCode string

const (
	// CodeValidationFailed indicates a type mismatch, missing required field,
	// dangling reference, or a key template that does not render.
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// CodeSchemaIncompatible indicates an unsafe schema version upgrade.
	CodeSchemaIncompatible ErrorCode = "SCHEMA_INCOMPATIBLE"

	// CodeConflict indicates a duplicate (type, id).
	CodeConflict ErrorCode = "CONFLICT"

	// CodeNotFound indicates an unknown type, id, version or store.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodePathNotFound indicates a traversal segment that does not resolve.
	CodePathNotFound ErrorCode = "PATH_NOT_FOUND"

	// CodeUnavailable indicates a remote store that is unreachable or timed out.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeBadRequest indicates a malformed request (bad path syntax, bad body).
	CodeBadRequest ErrorCode = "BAD_REQUEST"
)

// Error is the structured error returned across package boundaries.
//
// Path names the offending field, path segment, or store when one applies.
type Error struct {
	Code    ErrorCode
	Message string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidationFailed creates a CodeValidationFailed error naming the field path.
func ValidationFailed(path, format string, args ...any) *Error {
	return &Error{Code: CodeValidationFailed, Message: fmt.Sprintf(format, args...), Path: path}
}

// NotFound creates a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return Errorf(CodeNotFound, format, args...)
}

// Conflict creates a CodeConflict error.
func Conflict(format string, args ...any) *Error {
	return Errorf(CodeConflict, format, args...)
}

// PathNotFound creates a CodePathNotFound error naming the failing segment.
func PathNotFound(segment, format string, args ...any) *Error {
	return &Error{Code: CodePathNotFound, Message: fmt.Sprintf(format, args...), Path: segment}
}

// Unavailable wraps a transport failure against the named store.
func Unavailable(store string, err error) *Error {
	return &Error{Code: CodeUnavailable, Message: "store unavailable", Path: store, Err: err}
}

// WithPath returns a copy of e with Path replaced.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// CodeOf returns the code of the first *Error in err's chain, or "" when
// err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err's chain carries an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err is a NotFound or PathNotFound error.
func IsNotFound(err error) bool {
	c := CodeOf(err)
	return c == CodeNotFound || c == CodePathNotFound
}

// IsTransient reports whether err may succeed on retry. Anything without a
// client-facing code is treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case CodeUnavailable, "":
		return true
	default:
		return false
	}
}

// ErrorBody is the JSON shape of an Error on the HTTP surfaces.
type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
}

// Body returns the wire form of e. The wrapped cause is not exposed.
func (e *Error) Body() ErrorBody {
	return ErrorBody{Code: e.Code, Message: e.Message, Path: e.Path}
}

// AsError converts a decoded body back into an Error.
func (b ErrorBody) AsError() *Error {
	return &Error{Code: b.Code, Message: b.Message, Path: b.Path}
}
