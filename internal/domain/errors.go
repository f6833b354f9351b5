package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a domain failure. Callers branch on kinds, never on
// error strings.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindDuplicate           Kind = "duplicate"
	KindInsufficientShares  Kind = "insufficient_shares"
	KindNoPrice             Kind = "no_price"
	KindNoData              Kind = "no_data"
	KindNotFound            Kind = "not_found"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderError       Kind = "provider_error"
	KindConstraint          Kind = "constraint_violation"
	KindStorage             Kind = "storage_error"
	KindCanceled            Kind = "canceled"
)

// Error is a classified domain failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a domain error with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying cause.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// InsufficientSharesError reports a sell that exceeds the open position.
type InsufficientSharesError struct {
	Symbol    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares for %s: required %s, available %s",
		e.Symbol, e.Required.String(), e.Available.String())
}

// KindOf returns the failure kind of err, or the empty string when err is
// not a classified domain failure. Context cancellation maps to KindCanceled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var ise *InsufficientSharesError
	if errors.As(err, &ise) {
		return KindInsufficientShares
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
