package model

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidState      = errors.New("invalid state")
	ErrNotFound          = errors.New("not found")
	ErrPolicyUnavailable = errors.New("policy unavailable")
	ErrInvalidLevel      = errors.New("invalid rubric level")
	ErrConflict          = errors.New("version conflict")
	ErrForbidden         = errors.New("forbidden")
)

// Error carries one of the error kinds above plus a human readable detail.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// Validationf returns an ErrValidation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// InvalidStatef returns an ErrInvalidState error.
func InvalidStatef(format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf returns an ErrNotFound error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

// PolicyUnavailablef returns an ErrPolicyUnavailable error.
func PolicyUnavailablef(format string, args ...any) error {
	return &Error{Kind: ErrPolicyUnavailable, Msg: fmt.Sprintf(format, args...)}
}

// InvalidLevelf returns an ErrInvalidLevel error.
func InvalidLevelf(format string, args ...any) error {
	return &Error{Kind: ErrInvalidLevel, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf returns an ErrConflict error.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Msg: fmt.Sprintf(format, args...)}
}

// Forbiddenf returns an ErrForbidden error.
func Forbiddenf(format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Msg: fmt.Sprintf(format, args...)}
}
