// Package gameerr defines the error kinds shared by every layer of the
// tournament engine. Callers match on kinds with errors.Is.
package gameerr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidInput       = errors.New("invalid input")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrConflict           = errors.New("conflict")
)

var kinds = []error{
	ErrNotFound,
	ErrInvalidState,
	ErrPreconditionFailed,
	ErrInvalidInput,
	ErrResourceExhausted,
	ErrConflict,
}

// Error is a kinded failure with a human readable message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel kind carried by err, or nil if err is not kinded.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code is the stable wire name of an error's kind.
func Code(err error) string {
	switch KindOf(err) {
	case ErrNotFound:
		return "not_found"
	case ErrInvalidState:
		return "invalid_state"
	case ErrPreconditionFailed:
		return "precondition_failed"
	case ErrInvalidInput:
		return "invalid_input"
	case ErrResourceExhausted:
		return "resource_exhausted"
	case ErrConflict:
		return "conflict"
	default:
		return "internal"
	}
}
