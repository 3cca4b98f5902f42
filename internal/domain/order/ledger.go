package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
	"github.com/xenking/marketplace-checkout/internal/domain/identity"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
)

// StatusUpdate is a request to move an order along its fulfilment chain.
type StatusUpdate struct {
	Status         Status
	Carrier        string
	TrackingNumber string
	Note           string
}

// Get returns an order the caller is allowed to see.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("order %s not found", id)
		}
		return nil, errors.Wrap(err, "get order")
	}
	if !o.VisibleTo(caller) {
		return nil, apperr.Forbidden("not allowed to view order %s", id)
	}
	return o, nil
}

// ListByParent returns the child orders of a checkout visible to the caller.
func (s *Service) ListByParent(ctx context.Context, caller identity.Identity, parentOrderID string) ([]Order, error) {
	all, err := s.orders.ListByParent(ctx, parentOrderID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders by parent")
	}
	visible := make([]Order, 0, len(all))
	for i := range all {
		if all[i].VisibleTo(caller) {
			visible = append(visible, all[i])
		}
	}
	if len(visible) == 0 {
		return nil, apperr.NotFound("no orders for checkout %s", parentOrderID)
	}
	return visible, nil
}

// ListByConsumer returns a page of a consumer's orders, newest first.
func (s *Service) ListByConsumer(
	ctx context.Context,
	caller identity.Identity,
	consumerID string,
	page pagination.Page,
) (*pagination.Result[Order], error) {
	if caller.Role != identity.RoleService && !identity.Owns(caller, consumerID) {
		return nil, apperr.Forbidden("not allowed to list orders of consumer %s", consumerID)
	}
	page = page.Normalize()
	items, total, err := s.orders.ListByConsumer(ctx, consumerID, page)
	if err != nil {
		return nil, errors.Wrap(err, "list orders by consumer")
	}
	return &pagination.Result[Order]{Items: items, Total: total, Page: page}, nil
}

// ListByVendor returns a page of a vendor's orders, newest first.
func (s *Service) ListByVendor(
	ctx context.Context,
	caller identity.Identity,
	vendorID string,
	page pagination.Page,
) (*pagination.Result[Order], error) {
	if caller.Role != identity.RoleService && !identity.Owns(caller, vendorID) {
		return nil, apperr.Forbidden("not allowed to list orders of vendor %s", vendorID)
	}
	page = page.Normalize()
	items, total, err := s.orders.ListByVendor(ctx, vendorID, page)
	if err != nil {
		return nil, errors.Wrap(err, "list orders by vendor")
	}
	return &pagination.Result[Order]{Items: items, Total: total, Page: page}, nil
}

// AdvanceStatus moves an order forward and appends a tracking event. Only
// the owning vendor or an admin may do so.
func (s *Service) AdvanceStatus(ctx context.Context, caller identity.Identity, id string, upd StatusUpdate) (*Order, error) {
	o, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !(caller.Role == identity.RoleVendor && caller.UserID == o.VendorID) {
		return nil, apperr.Forbidden("only the order's vendor may update order %s", id)
	}
	if err := CheckAdvance(o.Status, upd.Status); err != nil {
		return nil, err
	}
	return s.appendTracking(ctx, o, TrackingEvent{
		Status:         upd.Status,
		Carrier:        strings.TrimSpace(upd.Carrier),
		TrackingNumber: strings.TrimSpace(upd.TrackingNumber),
		Note:           strings.TrimSpace(upd.Note),
	})
}

// Cancel cancels an order that has not shipped yet. Only the owning
// consumer or an admin may do so.
func (s *Service) Cancel(ctx context.Context, caller identity.Identity, id, note string) (*Order, error) {
	o, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !(caller.Role == identity.RoleConsumer && caller.UserID == o.ConsumerID) {
		return nil, apperr.Forbidden("only the order's consumer may cancel order %s", id)
	}
	if err := CheckCancel(o.Status); err != nil {
		return nil, err
	}
	return s.appendTracking(ctx, o, TrackingEvent{
		Status: StatusCancelled,
		Note:   strings.TrimSpace(note),
	})
}

func (s *Service) appendTracking(ctx context.Context, o *Order, ev TrackingEvent) (*Order, error) {
	ev.Timestamp = s.now().UTC()
	if err := s.orders.AppendTracking(ctx, o.ID, o.Status, ev); err != nil {
		switch {
		case errors.Is(err, ErrStaleStatus):
			return nil, apperr.WithReason(apperr.KindConflict, apperr.ReasonInvalidTransition,
				"order %s changed concurrently, retry", o.ID)
		case errors.Is(err, ErrNotFound):
			return nil, apperr.NotFound("order %s not found", o.ID)
		}
		return nil, errors.Wrap(err, "append tracking")
	}

	from := o.Status
	o.Status = ev.Status
	o.UpdatedAt = ev.Timestamp
	o.Tracking = append(o.Tracking, ev)

	lg := zctx.From(ctx)
	if err := s.publisher.Publish(ctx, newEvent(EventStatusChanged, o, ev.Timestamp)); err != nil {
		lg.Warn("Failed to publish order event", zap.String("order_id", o.ID), zap.Error(err))
	}
	lg.Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(ev.Status)),
	)
	return o, nil
}
