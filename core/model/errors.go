package model

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "not-found"
	KindStorage          ErrorKind = "storage-io-error"
	KindBadArgument      ErrorKind = "bad-argument"
	KindCapacityExceeded ErrorKind = "capacity-exceeded"
	KindUnavailable      ErrorKind = "unavailable"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrStorage          = &Error{Kind: KindStorage}
	ErrBadArgument      = &Error{Kind: KindBadArgument}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrUnavailable      = &Error{Kind: KindUnavailable}
)

// Error is the failure of a single chunk operation.
type Error struct {
	Kind   ErrorKind
	Op     string
	Handle ChunkHandle
	Err    error
}

func NewError(kind ErrorKind, op string, handle ChunkHandle, err error) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Handle: handle,
		Err:    err,
	}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	switch {
	case e.Op != "" && e.Handle != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Handle, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind && t.Op == "" && t.Handle == "" && t.Err == nil
}

// Cause returns the description of the underlying failure without op and handle.
func (e *Error) Cause() string {
	if e.Err == nil {
		return string(e.Kind)
	}

	return e.Err.Error()
}

// KindOf reports the kind of err. Errors that are not *Error count as storage errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindStorage
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
