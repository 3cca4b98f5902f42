package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/identity"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// DefaultCurrency is used when a request does not name one.
const DefaultCurrency = "usd"

// CreateRequest holds the input for settling a consumer's cart.
type CreateRequest struct {
	// ConsumerID defaults to the caller when empty.
	ConsumerID string
	// Amount is the caller-asserted total in major units.
	Amount   decimal.Decimal
	Currency string
}

// Service implements the settlement flow and payment queries.
type Service struct {
	catalog  product.Catalog
	carts    cart.Store
	gateway  Gateway
	payments Repository
	taxRate  decimal.Decimal
}

// NewService creates a payment Service.
func NewService(
	catalog product.Catalog,
	carts cart.Store,
	gateway Gateway,
	payments Repository,
	taxRate decimal.Decimal,
) *Service {
	return &Service{
		catalog:  catalog,
		carts:    carts,
		gateway:  gateway,
		payments: payments,
		taxRate:  taxRate,
	}
}

// reservation is a stock decrement that may need to be undone.
type reservation struct {
	productID string
	quantity  int
}

// Create validates the consumer's cart against the live catalog, checks the
// asserted amount, reserves stock for every item, and authorizes the charge.
// Stock is reserved all-or-nothing: if any decrement or the authorization
// fails, every reservation made so far is restocked before returning.
func (s *Service) Create(ctx context.Context, caller identity.Identity, req CreateRequest) (*Payment, error) {
	consumerID := req.ConsumerID
	if consumerID == "" {
		consumerID = caller.UserID
	}
	if !identity.HasRole(caller, identity.RoleConsumer) || !identity.Owns(caller, consumerID) {
		return nil, apperr.Forbidden("not allowed to pay for consumer %s", consumerID)
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than 0")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	c, err := s.carts.Get(ctx, consumerID)
	if err != nil {
		return nil, upstream(err, "fetch cart")
	}
	if c.Empty() {
		return nil, apperr.WithReason(apperr.KindValidation, apperr.ReasonEmptyCart, "cart is empty")
	}

	items, subtotal, err := s.validateItems(ctx, c.Items)
	if err != nil {
		return nil, err
	}

	totals := ComputeTotals(subtotal, s.taxRate)
	if !req.Amount.Equal(totals.Total) {
		return nil, apperr.WithReason(apperr.KindConflict, apperr.ReasonAmountMismatch,
			"amount %s does not match computed total %s", req.Amount.StringFixed(2), totals.Total.StringFixed(2))
	}

	reserved, err := s.reserveStock(ctx, items)
	if err != nil {
		return nil, err
	}

	charge, err := s.gateway.Authorize(ctx, ChargeRequest{
		Amount:     MinorUnits(totals.Total),
		Currency:   currency,
		ConsumerID: consumerID,
	})
	if err != nil {
		s.releaseStock(ctx, reserved)
		return nil, upstream(err, "authorize charge")
	}

	p := &Payment{
		ID:         charge.ID,
		ConsumerID: consumerID,
		Amount:     MinorUnits(totals.Total),
		Currency:   currency,
		Status:     charge.Status,
		ReceiptURL: charge.ReceiptURL,
		Subtotal:   totals.Subtotal,
		Tax:        totals.Tax,
		Total:      totals.Total,
		Items:      items,
	}
	if p.Status == StatusFailed || p.Status == StatusCanceled {
		s.releaseStock(ctx, reserved)
	}

	if err := s.payments.Create(ctx, p); err != nil {
		if p.Status != StatusFailed && p.Status != StatusCanceled {
			s.voidCharge(ctx, charge.ID)
			s.releaseStock(ctx, reserved)
		}
		return nil, errors.Wrap(err, "create payment")
	}

	zctx.From(ctx).Info("Payment created",
		zap.String("payment_id", p.ID),
		zap.String("consumer_id", consumerID),
		zap.String("status", string(p.Status)),
		zap.String("total", p.Total.StringFixed(2)),
	)
	return p, nil
}

// validateItems checks every cart item against the catalog and returns the
// validated line items with their subtotal. It performs no writes.
func (s *Service) validateItems(ctx context.Context, cartItems []cart.Item) ([]LineItem, decimal.Decimal, error) {
	items := make([]LineItem, 0, len(cartItems))
	subtotal := decimal.Zero
	for _, it := range cartItems {
		if it.Quantity <= 0 {
			return nil, decimal.Zero, apperr.Validation("quantity must be greater than 0 for product %s", it.ProductID)
		}
		if !it.CentPrecise() {
			return nil, decimal.Zero, apperr.Validation("price %s of product %s has more than 2 decimal places", it.Price, it.ProductID)
		}
		p, err := s.catalog.GetByID(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, decimal.Zero, apperr.NotFound("product %s not found", it.ProductID)
			}
			return nil, decimal.Zero, upstream(err, "fetch product "+it.ProductID)
		}
		if !p.Price.Equal(it.Price) {
			return nil, decimal.Zero, apperr.WithReason(apperr.KindConflict, apperr.ReasonPriceMismatch,
				"price of product %s changed from %s to %s", it.ProductID, it.Price.StringFixed(2), p.Price.StringFixed(2))
		}
		if p.QuantityInStock < it.Quantity {
			return nil, decimal.Zero, apperr.WithReason(apperr.KindConflict, apperr.ReasonInsufficientStock,
				"insufficient stock for product %s", it.ProductID)
		}
		items = append(items, LineItem{
			ProductID: it.ProductID,
			VendorID:  p.VendorID,
			Price:     p.Price,
			Quantity:  it.Quantity,
		})
		subtotal = subtotal.Add(it.Subtotal())
	}
	return items, subtotal, nil
}

// reserveStock decrements stock item by item. On failure it restocks what
// was already decremented and returns the error.
func (s *Service) reserveStock(ctx context.Context, items []LineItem) ([]reservation, error) {
	reserved := make([]reservation, 0, len(items))
	for _, it := range items {
		if err := s.catalog.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			s.releaseStock(ctx, reserved)
			if errors.Is(err, product.ErrNotFound) {
				return nil, apperr.NotFound("product %s not found", it.ProductID)
			}
			return nil, upstream(err, "decrement stock for product "+it.ProductID)
		}
		reserved = append(reserved, reservation{productID: it.ProductID, quantity: it.Quantity})
	}
	return reserved, nil
}

// releaseStock undoes reservations in reverse order. Failures are only
// logged.
func (s *Service) releaseStock(ctx context.Context, reserved []reservation) {
	lg := zctx.From(ctx)
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		if err := s.catalog.IncrementStock(ctx, r.productID, r.quantity); err != nil {
			lg.Error("Failed to release stock reservation",
				zap.String("product_id", r.productID),
				zap.Int("quantity", r.quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) voidCharge(ctx context.Context, id string) {
	if _, err := s.gateway.Cancel(ctx, id); err != nil {
		zctx.From(ctx).Error("Failed to void charge", zap.String("payment_id", id), zap.Error(err))
	}
}

// Get returns a payment visible to the caller. Internal services may read
// any payment.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id string) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("payment %s not found", id)
		}
		return nil, errors.Wrap(err, "get payment")
	}
	if caller.Role != identity.RoleService && !identity.Owns(caller, p.ConsumerID) {
		return nil, apperr.Forbidden("not allowed to view payment %s", id)
	}
	return p, nil
}

// Cancel voids a processing charge or refunds a succeeded one, then returns
// the reserved stock to the catalog.
func (s *Service) Cancel(ctx context.Context, caller identity.Identity, id string) (*Payment, error) {
	p, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !identity.Owns(caller, p.ConsumerID) {
		return nil, apperr.Forbidden("not allowed to cancel payment %s", id)
	}
	if p.Status != StatusProcessing && p.Status != StatusSucceeded {
		return nil, apperr.WithReason(apperr.KindConflict, apperr.ReasonInvalidTransition,
			"payment %s cannot be canceled in status %s", id, p.Status)
	}
	if _, err := s.gateway.Cancel(ctx, id); err != nil {
		return nil, upstream(err, "cancel charge")
	}
	if err := s.payments.UpdateStatus(ctx, id, StatusCanceled); err != nil {
		return nil, errors.Wrap(err, "update payment status")
	}
	p.Status = StatusCanceled

	reserved := make([]reservation, 0, len(p.Items))
	for _, it := range p.Items {
		reserved = append(reserved, reservation{productID: it.ProductID, quantity: it.Quantity})
	}
	s.releaseStock(ctx, reserved)
	return p, nil
}

// ListByConsumer returns one page of a consumer's payments, newest first.
func (s *Service) ListByConsumer(
	ctx context.Context,
	caller identity.Identity,
	consumerID string,
	page pagination.Page,
) (*pagination.Result[Payment], error) {
	if !identity.Owns(caller, consumerID) {
		return nil, apperr.Forbidden("not allowed to list payments of consumer %s", consumerID)
	}
	page = page.Normalize()
	items, total, err := s.payments.ListByConsumer(ctx, consumerID, page)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	return &pagination.Result[Payment]{Items: items, Total: total, Page: page}, nil
}

// upstream keeps classified collaborator errors as they are and wraps the
// rest as UpstreamUnavailable.
func upstream(err error, msg string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Upstream(err, "%s", msg)
}
