// Package apperr defines the error kinds shared by the dispatcher, the stores and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input: phone format, file names, upload types.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing credentials or trunk settings.
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider marks platform or network failures.
	ErrProvider = errors.New("provider error")
	// ErrPersistence marks transcript or recording write failures.
	ErrPersistence = errors.New("persistence error")
)

// Error carries a kind plus the message shown to callers.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func Validation(msg string) error { return &Error{Kind: ErrValidation, Msg: msg} }

func Configuration(msg string) error { return &Error{Kind: ErrConfiguration, Msg: msg} }

func Provider(msg string, err error) error { return &Error{Kind: ErrProvider, Msg: msg, Err: err} }

func Persistence(msg string, err error) error {
	return &Error{Kind: ErrPersistence, Msg: msg, Err: err}
}
