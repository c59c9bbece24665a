// Package apierr defines the server's stable, wire-compatible error taxonomy.
//
// Every public object-API operation returns a Code; none panics or returns
// an out-of-band error to a client. Internal invariant violations are
// logged and reported as CodeInternalError rather than crashing the daemon.
package apierr

import (
	"errors"
	"fmt"
)

// Code is a stable numeric error code returned to clients over the wire.
// Values must never be renumbered once assigned; new codes are appended.
type Code uint8

// Error codes, in the order they appear in the error taxonomy table.
const (
	CodeSuccess Code = iota
	CodeUnknownObjectID
	CodeInvalidParameter
	CodeNoFreeMemory
	CodeNoFreeObjectID
	CodeInvalidOperation
	CodeLocked
	CodeAccessDenied
	CodeNotSupported
	CodeNoMoreData
	CodeNoRewind
	CodeInternalError
	CodeUnknownError
)

var names = map[Code]string{
	CodeSuccess:          "success",
	CodeUnknownObjectID:  "unknown_object_id",
	CodeInvalidParameter: "invalid_parameter",
	CodeNoFreeMemory:     "no_free_memory",
	CodeNoFreeObjectID:   "no_free_object_id",
	CodeInvalidOperation: "invalid_operation",
	CodeLocked:           "locked",
	CodeAccessDenied:     "access_denied",
	CodeNotSupported:     "not_supported",
	CodeNoMoreData:       "no_more_data",
	CodeNoRewind:         "no_rewind",
	CodeInternalError:    "internal_error",
	CodeUnknownError:     "unknown_error",
}

// String returns the lower_snake_case name of the code.
func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Error wraps a Code with an optional underlying cause, following the same
// sentinel-plus-wrapper shape the storage layer uses for classification:
// callers can errors.Is against a Code-carrying Error, and errors.As to
// reach the wrapped cause for logging.
type Error struct {
	Code Code
	Op   string
	Err  error
}

// New creates an *Error with no wrapped cause.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap creates an *Error classifying an underlying error under op.
// Returns nil if err is nil.
func Wrap(code Code, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same Code, so that
// errors.Is(err, apierr.New(apierr.CodeLocked, "")) style comparisons work
// when only the code (not the op) matters to the caller.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the Code from err, defaulting to CodeUnknownError for any
// error that isn't an *Error (e.g. a bare host/OS error that escaped
// classification).
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeUnknownError
}
