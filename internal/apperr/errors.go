// Package apperr defines the error taxonomy shared across the ingestion and
// analytics pipeline. Components never panic on expected failure paths; they
// return a Result built on top of these types instead.
package apperr

import "fmt"

// Type categorizes an Error for logging and retry decisions.
type Type string

const (
	TypeValidation Type = "validation"
	TypeTransient  Type = "transient"
	TypeFatal      Type = "fatal"
)

// Error is the single error type produced by this module's components.
type Error struct {
	Type      Type
	Code      string
	Component string
	Message   string
	Cause     error
	Details   map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Component, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Component, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Validation builds a rejection error. reason is the stable code surfaced to
// callers and logs (e.g. VALUE_IS_NAN).
func Validation(component, reason string, details map[string]interface{}) *Error {
	return &Error{
		Type:      TypeValidation,
		Code:      reason,
		Component: component,
		Message:   "validation rejected",
		Details:   details,
	}
}

// Transient wraps a recoverable failure (DB, HTTP, cache) that the caller may
// retry via the retry package.
func Transient(component, code string, cause error) *Error {
	return &Error{
		Type:      TypeTransient,
		Code:      code,
		Component: component,
		Message:   "transient failure",
		Cause:     cause,
	}
}

// Fatal wraps an invariant violation. Callers that receive a Fatal error
// should terminate the current worker rather than continue processing.
func Fatal(component, code string, cause error) *Error {
	return &Error{
		Type:      TypeFatal,
		Code:      code,
		Component: component,
		Message:   "unrecoverable invariant violation",
		Cause:     cause,
	}
}

// IsTransient reports whether err is a retryable apperr.Error.
func IsTransient(err error) bool {
	var e *Error
	if ok := As(err, &e); ok {
		return e.Type == TypeTransient
	}
	return false
}

// As is a thin wrapper so callers don't need to import errors just for this
// package's checks.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
