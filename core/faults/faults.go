// Package faults defines the engine's stable error taxonomy. Every error
// propagated out of the engine carries a machine-readable kind alongside a
// human-readable message, and callers match kinds with errors.Is against
// the package sentinels.
package faults

import (
	"errors"
	"fmt"
)

// Kind enumerates the machine-readable error classes.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidState
	KindInsufficientCapacity
	KindValidation
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInsufficientCapacity:
		return "insufficient_capacity"
	case KindValidation:
		return "validation_error"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error pairs a kind with a message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches errors of the same kind, so errors.Is(err, faults.ErrNotFound)
// holds for any not-found error produced by this package.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState         = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrInsufficientCapacity = &Error{Kind: KindInsufficientCapacity, Message: "insufficient capacity"}
	ErrValidation           = &Error{Kind: KindValidation, Message: "validation error"}
	ErrUnauthorized         = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden            = &Error{Kind: KindForbidden, Message: "forbidden"}
)

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidStatef builds an invalid-state error.
func InvalidStatef(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// InsufficientCapacityf builds an insufficient-capacity error.
func InsufficientCapacityf(format string, args ...any) error {
	return &Error{Kind: KindInsufficientCapacity, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf builds a forbidden error.
func Forbiddenf(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
