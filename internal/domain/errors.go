package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindAuth        ErrorKind = "auth"
	KindUnavailable ErrorKind = "unavailable"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
)

// Error carries a kind so callers pick a retry policy without matching strings.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind against a bare kind sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrConflict    = &Error{Kind: KindConflict}
)

func NewValidationError(msg string, cause error) error {
	return &Error{Kind: KindValidation, Message: msg, Err: cause}
}

func NewAuthError(msg string, cause error) error {
	return &Error{Kind: KindAuth, Message: msg, Err: cause}
}

func NewUnavailableError(msg string, cause error) error {
	return &Error{Kind: KindUnavailable, Message: msg, Err: cause}
}

func NewNotFoundError(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func NewConflictError(msg string, cause error) error {
	return &Error{Kind: KindConflict, Message: msg, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when untyped.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// PublicMessage is the part of an error safe to show a caller.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return "internal error"
}
