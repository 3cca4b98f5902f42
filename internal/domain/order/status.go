package order

import "github.com/xenking/marketplace-checkout/internal/domain/apperr"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// fulfilment is the forward chain; position is the rank.
var fulfilment = []Status{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
}

func (s Status) rank() int {
	for i, st := range fulfilment {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusCancelled || s.rank() >= 0
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Cancellable reports whether an order in s may still be cancelled.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// CheckAdvance validates a fulfilment transition. Jumps ahead are allowed
// and so is re-applying the current status; moving backward, leaving a
// terminal status, or targeting cancelled are not.
func CheckAdvance(from, to Status) error {
	if to == StatusCancelled {
		return apperr.Validation("use the cancel operation to cancel an order")
	}
	if to.rank() < 0 {
		return apperr.Validation("unknown order status %q", to)
	}
	if from.Terminal() {
		return apperr.WithReason(apperr.KindConflict, apperr.ReasonInvalidTransition,
			"order is %s and can no longer change", from)
	}
	if to.rank() < from.rank() {
		return apperr.WithReason(apperr.KindConflict, apperr.ReasonInvalidTransition,
			"cannot move order from %s back to %s", from, to)
	}
	return nil
}

// CheckCancel validates cancelling an order currently in from.
func CheckCancel(from Status) error {
	if !from.Cancellable() {
		return apperr.WithReason(apperr.KindConflict, apperr.ReasonInvalidTransition,
			"order in status %s cannot be cancelled", from)
	}
	return nil
}
