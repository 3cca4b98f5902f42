package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// EventType names a ledger event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventStatusChanged EventType = "order.status_changed"
)

// Event is published after a ledger mutation has been committed.
type Event struct {
	Type          EventType
	OrderID       string
	ParentOrderID string
	ConsumerID    string
	VendorID      string
	PaymentID     string
	Status        Status
	Subtotal      decimal.Decimal
	Timestamp     time.Time
}

func newEvent(typ EventType, o *Order, at time.Time) Event {
	return Event{
		Type:          typ,
		OrderID:       o.ID,
		ParentOrderID: o.ParentOrderID,
		ConsumerID:    o.ConsumerID,
		VendorID:      o.VendorID,
		PaymentID:     o.PaymentID,
		Status:        o.Status,
		Subtotal:      o.Subtotal,
		Timestamp:     at,
	}
}

// Publisher delivers ledger events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...Event) error { return nil }

// ErrLocked is returned by a Locker when the key is held by someone else.
var ErrLocked = errors.New("lock is held")

// Locker provides a short-lived mutual exclusion keyed by string, shared
// across service instances.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
