// Package cart describes the Cart Store collaborator.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Item is a pending line item with the price recorded when it was added.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Subtotal returns price × quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CentPrecise reports whether the price has at most 2 decimal places.
func (i Item) CentPrecise() bool {
	return i.Price.Equal(i.Price.Round(2))
}

// Cart is a consumer's pending items in insertion order.
type Cart struct {
	ConsumerID string
	Items      []Item
}

// Empty reports whether the cart has no items.
func (c *Cart) Empty() bool {
	return c == nil || len(c.Items) == 0
}

// Store reads and clears carts.
type Store interface {
	Get(ctx context.Context, consumerID string) (*Cart, error)
	Clear(ctx context.Context, consumerID string) error
}
