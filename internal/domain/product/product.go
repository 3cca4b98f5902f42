package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog view the checkout flows need: the live price, the
// owning vendor and the stock level.
type Product struct {
	ID              string
	VendorID        string
	Price           decimal.Decimal
	QuantityInStock int
}

// Catalog is the Product Catalog collaborator. Stock adjustments are applied
// atomically by the catalog itself.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	DecrementStock(ctx context.Context, id string, quantity int) error
	IncrementStock(ctx context.Context, id string, quantity int) error
}
