// Package errors provides structured error types for stackpack.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the resolver, downloader and installer
//   - Machine-readable error codes recorded in install results and history
//   - User-friendly error messages (precise cycle paths and missing ids)
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Every failure the engine can report maps onto one [Code]:
//   - SECURITY: non-HTTPS source URLs, install paths escaping the base dir
//   - NOT_FOUND / CYCLE: resolution failures, raised before any I/O
//   - CHECKSUM: SHA-256 mismatch on downloaded content
//   - NETWORK_ERROR / TIMEOUT: transient transport failures (retryable)
//   - PERMISSION_DENIED / DISK_FULL: fatal filesystem failures
//   - INVALID_INPUT: malformed descriptors or oversize responses
//
// # Usage
//
//	err := errors.New(errors.ErrCodeSecurity, "source %q is not https", url)
//	if errors.Is(err, errors.ErrCodeSecurity) {
//	    // Refuse before touching the network
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeNetwork, origErr, "fetch %s", url)
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeInvalidPath  Code = "INVALID_PATH"

	// Security errors
	ErrCodeSecurity Code = "SECURITY"

	// Resolution errors
	ErrCodeNotFound Code = "NOT_FOUND"
	ErrCodeCycle    Code = "CYCLE"

	// Integrity errors
	ErrCodeChecksum Code = "CHECKSUM"

	// Network errors
	ErrCodeNetwork Code = "NETWORK_ERROR"
	ErrCodeTimeout Code = "TIMEOUT"

	// Filesystem errors
	ErrCodePermission Code = "PERMISSION_DENIED"
	ErrCodeDiskFull   Code = "DISK_FULL"
	ErrCodeIO         Code = "IO_ERROR"

	// Batch control
	ErrCodeCanceled Code = "CANCELED"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// coder is implemented by typed errors that carry structured detail
// (cycle paths, missing ids) in addition to a code.
type coder interface {
	Code() Code
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error or a typed error
// with a matching code.
func Is(err error, code Code) bool {
	return GetCode(err) == code && code != ""
}

// GetCode extracts the error code from an error, if available.
// The outermost coded error in the chain wins.
// Returns empty string if no coded error is found.
func GetCode(err error) Code {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Code
		case coder:
			return e.Code()
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// CycleError reports a circular dependency. Path lists the ids forming the
// cycle with the repeated id at both ends, e.g. [a b c a]. A resource that
// depends on itself yields [a a].
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// Code returns the error code for this error type.
func (e *CycleError) Code() Code {
	return ErrCodeCycle
}

// NotFoundError reports a required dependency missing from the catalog.
type NotFoundError struct {
	ID         string // Missing resource id
	RequiredBy string // Resource that referenced it (empty for a root)
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("resource %q not found in catalog (required by %q)", e.ID, e.RequiredBy)
	}
	return fmt.Sprintf("resource %q not found in catalog", e.ID)
}

// Code returns the error code for this error type.
func (e *NotFoundError) Code() Code {
	return ErrCodeNotFound
}

// Retryable reports whether the code describes a transient failure.
func (c Code) Retryable() bool {
	return c == ErrCodeNetwork || c == ErrCodeTimeout
}
