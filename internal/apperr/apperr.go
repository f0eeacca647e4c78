// Package apperr defines the error taxonomy shared across the engine.
//
// Four kinds cover every failure the platform distinguishes:
//
//	Validation  - malformed input, the caller's fault (4xx)
//	NotFound    - no such device/aggregate/publication (404)
//	Delivery    - push provider rejected or timed out; recorded, never fatal
//	Integration - an external collaborator failed; logged, best-effort
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindDelivery
	KindIntegration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindDelivery:
		return "delivery"
	case KindIntegration:
		return "integration"
	default:
		return "unknown"
	}
}

// Error is a classified error. It wraps an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Deliveryf builds a delivery error wrapping the provider failure.
func Deliveryf(err error, format string, args ...any) error {
	return &Error{Kind: KindDelivery, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Integrationf builds an integration error wrapping the collaborator failure.
func Integrationf(err error, format string, args ...any) error {
	return &Error{Kind: KindIntegration, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or 0 if err is not a classified error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsDelivery reports whether err is a delivery error.
func IsDelivery(err error) bool { return KindOf(err) == KindDelivery }

// IsIntegration reports whether err is an integration error.
func IsIntegration(err error) bool { return KindOf(err) == KindIntegration }
