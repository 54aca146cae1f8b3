package result

import (
	"errors"
	"fmt"

	"github.com/iidesho/esbridge/stream/event/store"
)

type Kind string

const (
	WrongExpectedVersion  Kind = "wrong-expected-version"
	StreamNotFound        Kind = "stream-not-found"
	NotAuthenticated      Kind = "not-authenticated"
	Other                 Kind = "other"
	Timeout               Kind = "timeout"
	PreconditionViolation Kind = "precondition-violation"
)

const (
	ErrorTypeKey = "error-type"
	ErrorKey     = "error"
)

// Error is the classified failure every operation resolves to.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches other *Error values on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Cause == nil
}

// Map is the tolerant representation of the error.
func (e *Error) Map() map[string]any {
	return map[string]any{
		ErrorTypeKey: e.Kind,
		ErrorKey:     e.Cause,
	}
}

// Sentinel values usable with errors.Is, e.g. errors.Is(err, result.ErrTimeout).
var (
	ErrWrongExpectedVersion  = &Error{Kind: WrongExpectedVersion}
	ErrStreamNotFound        = &Error{Kind: StreamNotFound}
	ErrNotAuthenticated      = &Error{Kind: NotAuthenticated}
	ErrOther                 = &Error{Kind: Other}
	ErrTimeout               = &Error{Kind: Timeout}
	ErrPreconditionViolation = &Error{Kind: PreconditionViolation}
)

// Precondition builds the error returned for invalid input before any request is issued.
func Precondition(format string, args ...any) *Error {
	return &Error{
		Kind:  PreconditionViolation,
		Cause: fmt.Errorf(format, args...),
	}
}

// Classify maps a transport failure onto the error taxonomy. Already classified errors are
// returned as is.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Kind:  KindOf(err),
		Cause: err,
	}
}

func KindOf(err error) Kind {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e.Kind
	case errors.Is(err, store.ErrWrongExpectedVersion):
		return WrongExpectedVersion
	case errors.Is(err, store.ErrStreamNotFound), errors.Is(err, store.ErrStreamDeleted):
		return StreamNotFound
	case errors.Is(err, store.ErrNotAuthenticated), errors.Is(err, store.ErrAccessDenied):
		return NotAuthenticated
	}
	return Other
}
