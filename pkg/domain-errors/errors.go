// Package derrors provides coded domain errors.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel);
// services translate them into coded errors here so transports and the task
// scheduler can make uniform decisions (HTTP status, retry vs terminal)
// without string matching.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeInvalidInput marks malformed or missing caller input. Terminal.
	CodeInvalidInput Code = "invalid_input"
	// CodeValidation marks payloads or configuration data that cannot be
	// interpreted (unknown event, missing type mapping, bad signature).
	// Terminal for the delivery; a retry cannot fix it.
	CodeValidation Code = "validation"
	// CodeConfiguration marks tenants that are not fully configured for
	// provider calls. Terminal; surfaced to operators, never retried.
	CodeConfiguration Code = "configuration"
	// CodeNotFound marks a missing entity.
	CodeNotFound Code = "not_found"
	// CodeConflict marks uniqueness or state conflicts.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation marks operations that would corrupt aggregate
	// state (re-generating a generated resource, re-evaluating a terminal
	// check).
	CodeInvariantViolation Code = "invariant_violation"
	// CodeNotReady marks a remote resource that has not reached the state
	// the caller needs yet. Retryable.
	CodeNotReady Code = "not_ready"
	// CodeUnavailable marks transient infrastructure or remote failures.
	// Retryable.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks unexpected failures.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. It wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a coded error with no cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// CodeOf extracts the code from err, walking the wrap chain. Uncoded errors
// report CodeInternal.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}

// Retryable reports whether the scheduler should re-attempt the operation
// that produced err. Validation, configuration and invariant failures are
// defects or operator problems; retrying cannot fix them.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidInput, CodeValidation, CodeConfiguration,
		CodeNotFound, CodeConflict, CodeInvariantViolation:
		return false
	default:
		return true
	}
}
