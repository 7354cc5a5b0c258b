package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies exchange failures so callers can decide whether a
// retry makes sense.
type ErrorKind string

const (
	ErrKindNetwork      ErrorKind = "network"
	ErrKindRateLimit    ErrorKind = "rate_limit"
	ErrKindAuth         ErrorKind = "auth"
	ErrKindBalance      ErrorKind = "insufficient_balance"
	ErrKindInvalidOrder ErrorKind = "invalid_order"
	ErrKindUnknown      ErrorKind = "unknown"
)

// ExchangeError wraps any failure returned by the exchange collaborator.
type ExchangeError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("exchange %s: %s", e.Kind, e.Message)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// NewError builds an ExchangeError with the given classification.
func NewError(kind ErrorKind, message string, err error) *ExchangeError {
	return &ExchangeError{Kind: kind, Message: message, Err: err}
}

// Retryable reports whether an error is worth retrying. Auth, balance and
// invalid-order failures are deterministic and must surface immediately.
func Retryable(err error) bool {
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		return true
	}
	switch exErr.Kind {
	case ErrKindAuth, ErrKindBalance, ErrKindInvalidOrder:
		return false
	}
	return true
}
