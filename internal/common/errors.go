// Package common defines the error classification shared by every server
// layer. Domain components return *Error values (or the sentinels below)
// and only the transport boundary turns a Kind into a status code.
// Callers should use errors.Is / KindOf to match them.
package common

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classes the service can report.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified error. Data carries structured detail for the
// client (for validation failures a []FieldError), Err the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Data    any
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so any
// not-found error matches ErrorNotFound regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// Repository-level errors.
	ErrorNotFound = &Error{Kind: KindNotFound, Message: "not found"}
	ErrorConflict = &Error{Kind: KindConflict, Message: "already exists"}

	// Service-level errors.
	ErrorInternal        = &Error{Kind: KindInternal, Message: "internal error"}
	ErrorUnauthenticated = &Error{Kind: KindAuthentication, Message: "not authenticated"}
	ErrorForbidden       = &Error{Kind: KindAuthorization, Message: "not authorized"}
	ErrorValidation      = &Error{Kind: KindValidation, Message: "validation failed"}
)

// New returns a classified error with no underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies err under kind with a client-facing message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewValidationError builds a KindValidation error carrying field details.
func NewValidationError(msg string, fields []FieldError) *Error {
	e := &Error{Kind: KindValidation, Message: msg}
	if len(fields) > 0 {
		e.Data = fields
	}
	return e
}

// KindOf returns the Kind of the first *Error in err's chain,
// or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Classify leaves classified errors untouched and wraps anything else as
// an internal error, keeping the cause for logs.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Wrap(KindInternal, ErrorInternal.Message, err)
}
