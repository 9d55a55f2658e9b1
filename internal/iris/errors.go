package iris

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error so callers (HTTP layer, intent router)
// can react without string matching.
type ErrorKind string

const (
	ErrKindValidation   ErrorKind = "validation"
	ErrKindNotFound     ErrorKind = "not_found"
	ErrKindConflict     ErrorKind = "conflict"
	ErrKindInvalidState ErrorKind = "invalid_state"
)

// Error is the domain error carried across package boundaries. Details holds
// machine-readable context, e.g. the name of the protocol already running on
// a conflict.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by kind, so errors.Is(err, &Error{Kind: ErrKindConflict}) works
// across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Detail returns one detail value, or "" when absent.
func (e *Error) Detail(key string) string {
	if e.Details == nil {
		return ""
	}
	return e.Details[key]
}

// ErrValidation reports invalid caller input.
func ErrValidation(message string) *Error {
	return &Error{Kind: ErrKindValidation, Message: message}
}

// ErrNotFound reports a missing resource, e.g. ErrNotFound("protocol", name).
func ErrNotFound(resource, key string) *Error {
	return &Error{Kind: ErrKindNotFound, Message: fmt.Sprintf("%s %q not found", resource, key)}
}

// ErrConflict reports a state collision. activeProtocol names the protocol of
// the run already in progress, when known, so callers can offer
// cancel-and-restart.
func ErrConflict(message, activeProtocol string) *Error {
	e := &Error{Kind: ErrKindConflict, Message: message}
	if activeProtocol != "" {
		e.Details = map[string]string{"active_protocol": activeProtocol}
	}
	return e
}

// ErrInvalidState reports a transition that cannot apply to the current
// state.
func ErrInvalidState(message string) *Error {
	return &Error{Kind: ErrKindInvalidState, Message: message}
}

// KindOf returns the kind of err when it is (or wraps) a domain Error, and ""
// otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsValidation(err error) bool   { return KindOf(err) == ErrKindValidation }
func IsNotFound(err error) bool     { return KindOf(err) == ErrKindNotFound }
func IsConflict(err error) bool     { return KindOf(err) == ErrKindConflict }
func IsInvalidState(err error) bool { return KindOf(err) == ErrKindInvalidState }

// ActiveProtocol extracts the conflicting protocol name from a conflict
// error, or "" when unavailable.
func ActiveProtocol(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == ErrKindConflict {
		return e.Detail("active_protocol")
	}
	return ""
}
