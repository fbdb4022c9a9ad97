package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrConfiguration = errors.New("configuration error")
	ErrPersistence   = errors.New("persistence error")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
)

// Error carries the failing operation alongside its kind.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%v: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func newErr(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(op, format string, args ...any) error {
	return newErr(ErrValidation, op, format, args...)
}

func Conflictf(op, format string, args ...any) error {
	return newErr(ErrConflict, op, format, args...)
}

func Configurationf(op, format string, args ...any) error {
	return newErr(ErrConfiguration, op, format, args...)
}

func NotFoundf(op, format string, args ...any) error {
	return newErr(ErrNotFound, op, format, args...)
}

func Forbiddenf(op, format string, args ...any) error {
	return newErr(ErrForbidden, op, format, args...)
}

// Persistence wraps a storage failure. Errors that already carry a kind are
// returned unchanged so a conflict raised inside a transaction stays a conflict.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: ErrPersistence, Op: op, Err: err}
}

// IsClientError reports kinds that are the caller's fault and are not logged as faults.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden)
}
