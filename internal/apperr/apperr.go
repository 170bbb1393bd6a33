// Package apperr defines the structured error taxonomy shared by every
// domain service and surfaced to clients by the dispatcher (spec.md §7).
package apperr

import "fmt"

// Code is a stable error kind string sent to clients as data.code.
type Code string

const (
	NotFound          Code = "ErrNotFound"
	Validation        Code = "ErrValidation"
	Hierarchy         Code = "ErrHierarchy"
	Cycle             Code = "ErrCycle"
	OrderSet          Code = "ErrOrderSet"
	Derived           Code = "ErrDerived"
	NamespaceBinding  Code = "ErrNamespaceBinding"
	Conflict          Code = "ErrConflict"
	Timeout           Code = "ErrTimeout"
	Transport         Code = "ErrTransport"
	Internal          Code = "ErrInternal"
)

// Error is the structured error type produced by every domain service.
// It never carries a stack trace; Internal errors get a correlation id
// instead so operators can find the logged detail without leaking it.
type Error struct {
	Code          Code
	Message       string
	CorrelationID string
	cause         error
}

func (e *Error) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("%s: %s (correlation=%s)", e.Code, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a typed error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a typed error that also carries the underlying cause for
// logs, without leaking the cause's text to the message sent to clients
// unless explicitly interpolated.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// As extracts an *Error from err, following the Unwrap chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// CodeOf returns the Code of err if it (or something it wraps) is an
// *Error, otherwise Internal.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Internal
}

func NotFoundf(format string, args ...any) *Error         { return New(NotFound, format, args...) }
func Validationf(format string, args ...any) *Error       { return New(Validation, format, args...) }
func Hierarchyf(format string, args ...any) *Error        { return New(Hierarchy, format, args...) }
func Cyclef(format string, args ...any) *Error            { return New(Cycle, format, args...) }
func OrderSetf(format string, args ...any) *Error         { return New(OrderSet, format, args...) }
func Derivedf(format string, args ...any) *Error          { return New(Derived, format, args...) }
func NamespaceBindingf(format string, args ...any) *Error { return New(NamespaceBinding, format, args...) }
func Conflictf(format string, args ...any) *Error         { return New(Conflict, format, args...) }
func Timeoutf(format string, args ...any) *Error          { return New(Timeout, format, args...) }
func Transportf(format string, args ...any) *Error        { return New(Transport, format, args...) }
