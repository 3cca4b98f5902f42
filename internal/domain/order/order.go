package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/identity"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrStaleStatus is returned by AppendTracking when the order status
	// changed since it was read.
	ErrStaleStatus = errors.New("order status changed concurrently")
	// ErrDuplicate is returned by CreateBatch when a child order for the same
	// parent and vendor already exists.
	ErrDuplicate = errors.New("order already exists")
)

// PaymentStatus is the payment state captured when the order was created.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Order is one vendor's share of a checkout.
type Order struct {
	ID              string
	ConsumerID      string
	VendorID        string
	ParentOrderID   string
	PaymentID       string
	PaymentStatus   PaymentStatus
	Status          Status
	Subtotal        decimal.Decimal
	Items           []OrderItem
	ShippingAddress Address
	Tracking        []TrackingEvent
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a line item with the price validated at checkout.
type OrderItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Subtotal returns price × quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is the shipping destination embedded in an order.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Validate reports the first missing required field.
func (a Address) Validate() error {
	required := []struct{ name, value string }{
		{"street", a.Street},
		{"city", a.City},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return apperr.Validation("shippingAddress.%s is required", f.name)
		}
	}
	return nil
}

// TrackingEvent is an immutable record of the order status at a point in time.
type TrackingEvent struct {
	Status         Status
	Timestamp      time.Time
	Carrier        string
	TrackingNumber string
	Note           string
}

// VisibleTo reports whether caller may read the order: its consumer, its
// vendor, an admin, or an internal service.
func (o *Order) VisibleTo(caller identity.Identity) bool {
	switch caller.Role {
	case identity.RoleAdmin, identity.RoleService:
		return true
	case identity.RoleConsumer:
		return caller.UserID == o.ConsumerID
	case identity.RoleVendor:
		return caller.UserID == o.VendorID
	default:
		return false
	}
}

// Repository is the Order Ledger. Orders are only inserted and have
// tracking events appended; there is no field-level update path.
type Repository interface {
	// CreateBatch persists all orders or none of them.
	CreateBatch(ctx context.Context, orders []*Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByParent(ctx context.Context, parentOrderID string) ([]Order, error)
	ListByConsumer(ctx context.Context, consumerID string, page pagination.Page) ([]Order, int, error)
	ListByVendor(ctx context.Context, vendorID string, page pagination.Page) ([]Order, int, error)
	ExistsByPayment(ctx context.Context, paymentID string) (bool, error)
	// AppendTracking sets the order status to ev.Status and appends ev,
	// provided the current status is still from. Otherwise ErrStaleStatus.
	AppendTracking(ctx context.Context, id string, from Status, ev TrackingEvent) error
}
