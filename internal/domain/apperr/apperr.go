// Package apperr defines the error taxonomy shared by the order and payment
// services. Domain code returns *Error values; the HTTP layer maps their
// Kind to a status code exactly once.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

// Kind classifies a failure for the caller.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindForbidden  Kind = "Forbidden"
	KindNotFound   Kind = "NotFound"
	KindUpstream   Kind = "UpstreamUnavailable"
	KindConflict   Kind = "StateConflict"
)

// Reason is a stable machine-readable code refining a Kind.
type Reason string

const (
	ReasonPaymentInvalid     Reason = "PaymentInvalid"
	ReasonPaymentAlreadyUsed Reason = "PaymentAlreadyUsed"
	ReasonEmptyCart          Reason = "EmptyCart"
	ReasonPriceMismatch      Reason = "PriceMismatch"
	ReasonAmountMismatch     Reason = "AmountMismatch"
	ReasonInsufficientStock  Reason = "InsufficientStock"
	ReasonInvalidTransition  Reason = "InvalidTransition"
	ReasonCheckoutInProgress Reason = "CheckoutInProgress"
	ReasonDuplicateCheckout  Reason = "DuplicateCheckout"
)

// Error is a classified domain failure. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Reason when the target carries one,
// otherwise by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" {
		return e.Reason == t.Reason
	}
	return e.Kind == t.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithReason returns an *Error of the given kind and reason.
func WithReason(kind Kind, reason Reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a collaborator failure.
func Upstream(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

// Convenience constructors for the common kinds.
func Validation(format string, args ...any) *Error { return Newf(KindValidation, format, args...) }
func Forbidden(format string, args ...any) *Error  { return Newf(KindForbidden, format, args...) }
func NotFound(format string, args ...any) *Error   { return Newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error   { return Newf(KindConflict, format, args...) }

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasReason reports whether err carries the given reason.
func HasReason(err error, reason Reason) bool {
	e, ok := As(err)
	return ok && e.Reason == reason
}

// KindOf returns the kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps a kind to its response status. Unknown kinds are 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
