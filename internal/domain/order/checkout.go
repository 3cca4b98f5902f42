package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/identity"
	"github.com/xenking/marketplace-checkout/internal/domain/payment"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

// CheckoutRequest holds the input for converting a cart into orders.
type CheckoutRequest struct {
	// ConsumerID defaults to the caller when empty.
	ConsumerID string
	PaymentID  string
	// ParentOrderID is the client-asserted correlation id shared by all
	// child orders of this checkout.
	ParentOrderID   string
	ShippingAddress Address
}

// CheckoutResult lists the child orders created by a checkout.
type CheckoutResult struct {
	ParentOrderID string
	OrderIDs      []string
	Orders        []*Order
}

// validatedItem is a cart item whose price matched the catalog.
type validatedItem struct {
	item     OrderItem
	vendorID string
}

// vendorPartition is the set of items one child order will hold.
type vendorPartition struct {
	vendorID string
	items    []OrderItem
}

// Checkout turns the consumer's cart and a succeeded payment into one order
// per vendor, then clears the cart.
//
// It runs in two phases. The validation phase only reads: payment, cart and
// every product are checked and the items are partitioned by vendor. The
// commit phase persists all child orders in one batch. No order is written
// unless every item of every vendor validated.
func (s *Service) Checkout(ctx context.Context, caller identity.Identity, req CheckoutRequest) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(rerr))))
		}
		span.End()
	}()

	if req.ConsumerID == "" {
		req.ConsumerID = caller.UserID
	}
	if err := validateCheckoutRequest(req); err != nil {
		return nil, err
	}
	if !identity.HasRole(caller, identity.RoleConsumer) || !identity.Owns(caller, req.ConsumerID) {
		return nil, apperr.Forbidden("not allowed to check out for consumer %s", req.ConsumerID)
	}
	span.SetAttributes(
		attribute.String("order.parent_id", req.ParentOrderID),
		attribute.String("order.consumer_id", req.ConsumerID),
	)

	unlock, err := s.locker.Lock(ctx, "checkout:"+req.ConsumerID, s.lockTTL)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, apperr.WithReason(apperr.KindConflict, apperr.ReasonCheckoutInProgress,
				"another checkout is in progress for consumer %s", req.ConsumerID)
		}
		return nil, apperr.Upstream(err, "acquire checkout lock")
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			zctx.From(ctx).Warn("Failed to release checkout lock", zap.Error(err))
		}
	}()

	partitions, err := s.validateCheckout(ctx, req)
	if err != nil {
		return nil, err
	}

	orders := s.buildOrders(req, partitions)
	if err := s.orders.CreateBatch(ctx, orders); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.WithReason(apperr.KindConflict, apperr.ReasonDuplicateCheckout,
				"checkout %s was already completed", req.ParentOrderID)
		}
		return nil, errors.Wrap(err, "create orders")
	}

	lg := zctx.From(ctx)
	if err := s.carts.Clear(ctx, req.ConsumerID); err != nil {
		lg.Warn("Failed to clear cart after checkout",
			zap.String("consumer_id", req.ConsumerID),
			zap.String("parent_order_id", req.ParentOrderID),
			zap.Error(err),
		)
	}

	result := &CheckoutResult{ParentOrderID: req.ParentOrderID, Orders: orders}
	events := make([]Event, 0, len(orders))
	for _, o := range orders {
		result.OrderIDs = append(result.OrderIDs, o.ID)
		events = append(events, newEvent(EventCreated, o, o.CreatedAt))
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		lg.Warn("Failed to publish order events", zap.String("parent_order_id", req.ParentOrderID), zap.Error(err))
	}

	s.metrics.completed.Add(ctx, 1)
	s.metrics.created.Add(ctx, int64(len(orders)))
	lg.Info("Checkout completed",
		zap.String("parent_order_id", req.ParentOrderID),
		zap.String("consumer_id", req.ConsumerID),
		zap.Strings("order_ids", result.OrderIDs),
	)
	return result, nil
}

func validateCheckoutRequest(req CheckoutRequest) error {
	switch {
	case strings.TrimSpace(req.ConsumerID) == "":
		return apperr.Validation("consumerId is required")
	case strings.TrimSpace(req.PaymentID) == "":
		return apperr.Validation("paymentId is required")
	case strings.TrimSpace(req.ParentOrderID) == "":
		return apperr.Validation("orderId is required")
	}
	return req.ShippingAddress.Validate()
}

// validateCheckout is the read-only phase: it verifies the payment, fetches
// the cart, revalidates every item and partitions the items by vendor.
func (s *Service) validateCheckout(ctx context.Context, req CheckoutRequest) ([]vendorPartition, error) {
	if err := s.verifyPayment(ctx, req); err != nil {
		return nil, err
	}

	c, err := s.carts.Get(ctx, req.ConsumerID)
	if err != nil {
		return nil, upstream(err, "fetch cart")
	}
	if c.Empty() {
		return nil, apperr.WithReason(apperr.KindValidation, apperr.ReasonEmptyCart, "cart is empty")
	}

	items, err := s.validateItems(ctx, c.Items)
	if err != nil {
		return nil, err
	}
	return partitionByVendor(items), nil
}

func (s *Service) verifyPayment(ctx context.Context, req CheckoutRequest) error {
	p, err := s.payments.Get(ctx, req.PaymentID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) || apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.WithReason(apperr.KindNotFound, apperr.ReasonPaymentInvalid,
				"payment %s not found", req.PaymentID)
		}
		if errors.Is(err, payment.ErrForbidden) || apperr.KindOf(err) == apperr.KindForbidden {
			return apperr.WithReason(apperr.KindConflict, apperr.ReasonPaymentInvalid,
				"payment %s belongs to another consumer", req.PaymentID)
		}
		return upstream(err, "fetch payment")
	}
	if !p.Usable() {
		return apperr.WithReason(apperr.KindConflict, apperr.ReasonPaymentInvalid,
			"payment %s is %s, not succeeded", req.PaymentID, p.Status)
	}
	if p.ConsumerID != "" && p.ConsumerID != req.ConsumerID {
		return apperr.WithReason(apperr.KindConflict, apperr.ReasonPaymentInvalid,
			"payment %s belongs to another consumer", req.PaymentID)
	}

	used, err := s.orders.ExistsByPayment(ctx, req.PaymentID)
	if err != nil {
		return errors.Wrap(err, "check payment usage")
	}
	if used {
		return apperr.WithReason(apperr.KindConflict, apperr.ReasonPaymentAlreadyUsed,
			"payment %s already funded a checkout", req.PaymentID)
	}
	return nil
}

// validateItems looks up every product, possibly concurrently, and returns
// the items in cart order. The first failure cancels outstanding lookups.
func (s *Service) validateItems(ctx context.Context, cartItems []cart.Item) ([]validatedItem, error) {
	validated := make([]validatedItem, len(cartItems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, it := range cartItems {
		g.Go(func() error {
			if it.Quantity <= 0 {
				return apperr.Validation("quantity must be greater than 0 for product %s", it.ProductID)
			}
			if !it.CentPrecise() {
				return apperr.Validation("price %s of product %s has more than 2 decimal places", it.Price, it.ProductID)
			}
			p, err := s.products.GetByID(gctx, it.ProductID)
			if err != nil {
				if errors.Is(err, product.ErrNotFound) {
					return apperr.NotFound("product %s not found", it.ProductID)
				}
				return upstream(err, "fetch product "+it.ProductID)
			}
			if !p.Price.Equal(it.Price) {
				return apperr.WithReason(apperr.KindConflict, apperr.ReasonPriceMismatch,
					"price of product %s changed from %s to %s",
					it.ProductID, it.Price.StringFixed(2), p.Price.StringFixed(2))
			}
			if p.VendorID == "" {
				return apperr.Upstream(nil, "product %s has no vendor", it.ProductID)
			}
			validated[i] = validatedItem{
				item: OrderItem{
					ProductID: it.ProductID,
					Quantity:  it.Quantity,
					Price:     it.Price,
				},
				vendorID: p.VendorID,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return validated, nil
}

// partitionByVendor groups items by vendor. Partitions are ordered by the
// vendor's first appearance and keep cart order within each partition.
func partitionByVendor(items []validatedItem) []vendorPartition {
	index := make(map[string]int)
	var partitions []vendorPartition
	for _, v := range items {
		i, ok := index[v.vendorID]
		if !ok {
			i = len(partitions)
			index[v.vendorID] = i
			partitions = append(partitions, vendorPartition{vendorID: v.vendorID})
		}
		partitions[i].items = append(partitions[i].items, v.item)
	}
	return partitions
}

func (s *Service) buildOrders(req CheckoutRequest, partitions []vendorPartition) []*Order {
	now := s.now().UTC()
	orders := make([]*Order, 0, len(partitions))
	for _, part := range partitions {
		subtotal := decimal.Zero
		for _, it := range part.items {
			subtotal = subtotal.Add(it.Subtotal())
		}
		orders = append(orders, &Order{
			ID:              uuid.New().String(),
			ConsumerID:      req.ConsumerID,
			VendorID:        part.vendorID,
			ParentOrderID:   req.ParentOrderID,
			PaymentID:       req.PaymentID,
			PaymentStatus:   PaymentSucceeded,
			Status:          StatusPending,
			Subtotal:        subtotal,
			Items:           part.items,
			ShippingAddress: req.ShippingAddress,
			Tracking:        []TrackingEvent{{Status: StatusPending, Timestamp: now}},
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return orders
}

func failureReason(err error) string {
	if e, ok := apperr.As(err); ok {
		if e.Reason != "" {
			return string(e.Reason)
		}
		return string(e.Kind)
	}
	return "internal"
}

// upstream keeps classified collaborator errors and wraps the rest as
// UpstreamUnavailable.
func upstream(err error, msg string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Upstream(err, "%s", msg)
}
