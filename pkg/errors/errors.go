// Package errors provides the error values used throughout stratum.
//
// Errors are declared as sentinel values that can be wrapped around a
// cause without resorting to fmt.Errorf("%w", err), so that callers can
// test for a kind with errors.Is while the full chain keeps the
// offending digest, tag name or path.
package errors

import (
	stderr "errors"
	"fmt"
)

var _ error = New("")

// New creates a new sentinel error with the given message.
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error is an error value that supports wrapping a cause.
type Error struct {
	msg string
	err error
}

// Error returns the message for this error, with the cause appended
// when one has been wrapped.
func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap returns a copy of this error with a cause attached. The
// original sentinel is left untouched so it remains usable as a
// comparison target.
func (e *Error) Wrap(err error) *Error {
	return &Error{msg: e.msg, err: err}
}

// WrapMessage returns a copy of this error wrapping an additional
// formatted message, e.g. the digest or tag the operation failed on.
func (e *Error) WrapMessage(format string, args ...interface{}) *Error {
	return &Error{msg: e.msg, err: fmt.Errorf(format, args...)}
}

// Is reports whether this error matches the target sentinel.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e == other || e.msg == other.msg
	}
	return false
}

// As finds the first error in err's chain matching target
// (a shortcut to the standard library errors.As).
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to the standard library errors.Is).
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
