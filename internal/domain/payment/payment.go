package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
)

// ErrNotFound is returned when a payment does not exist.
var ErrNotFound = errors.New("payment not found")

// ErrForbidden is returned when the caller may not see a payment.
var ErrForbidden = errors.New("payment belongs to another consumer")

// Status is the processor-reported state of a charge.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Payment is a charge created for one checkout attempt.
type Payment struct {
	// ID is the gateway payment intent id.
	ID         string
	ConsumerID string
	// Amount is the charged total in minor units.
	Amount     int64
	Currency   string
	Status     Status
	ReceiptURL string
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	Items      []LineItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Usable reports whether the payment can fund a checkout.
func (p *Payment) Usable() bool {
	return p != nil && p.Status == StatusSucceeded
}

// LineItem is the snapshot of a cart item validated during settlement.
type LineItem struct {
	ProductID string          `json:"productId"`
	VendorID  string          `json:"vendorId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Repository persists payment records.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	ListByConsumer(ctx context.Context, consumerID string, page pagination.Page) ([]Payment, int, error)
}

// ChargeRequest asks the gateway to create and confirm a charge.
type ChargeRequest struct {
	Amount     int64
	Currency   string
	ConsumerID string
}

// Charge is the gateway's view of a payment intent.
type Charge struct {
	ID         string
	Status     Status
	ReceiptURL string
}

// Gateway is the third-party payment processor.
type Gateway interface {
	Authorize(ctx context.Context, req ChargeRequest) (*Charge, error)
	Cancel(ctx context.Context, id string) (*Charge, error)
}
