package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrValidationFailed    = errors.New("validation failed")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrNotifierUnavailable = errors.New("notifier unavailable")
)

// UserError carries the text shown to the actor and unwraps to its kind.
type UserError struct {
	Kind    error
	Message string
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *UserError) Unwrap() error {
	return e.Kind
}

func denied(msg string) error {
	return &UserError{Kind: ErrAuthorizationDenied, Message: msg}
}

func invalidTransition(msg string) error {
	return &UserError{Kind: ErrInvalidTransition, Message: msg}
}

func invalidInput(msg string) error {
	return &UserError{Kind: ErrValidationFailed, Message: msg}
}

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func notifierUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrNotifierUnavailable, op, err)
}

// UserMessage returns the reply for an error raised while handling an event.
func UserMessage(err error) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrNotifierUnavailable):
		return textTryLater
	}
	return textSomethingWrong
}
