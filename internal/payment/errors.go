package payment

import (
	"errors"
	"fmt"
)

// Store errors.
var (
	ErrNotFound  = errors.New("transaction not found")
	ErrDuplicate = errors.New("transaction already exists")
)

// ErrorKind classifies engine errors for the caller.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindProvider   ErrorKind = "provider"
	KindDuplicate  ErrorKind = "duplicate"
	KindNotFound   ErrorKind = "not_found"
	KindInternal   ErrorKind = "internal"
)

// Error is an engine error with a message suitable for display.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func providerError(msg string) *Error {
	return &Error{Kind: KindProvider, Message: msg}
}

func internalError(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err. Errors not produced by the engine are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsValidation reports a rejected request.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsProvider reports a provider-side rejection or transport failure.
func IsProvider(err error) bool { return KindOf(err) == KindProvider }

// IsDuplicate reports a refCode collision.
func IsDuplicate(err error) bool { return KindOf(err) == KindDuplicate }

// IsNotFound reports an unknown refCode.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
