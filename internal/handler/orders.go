package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/identity"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
)

// OrderService is the order domain as seen by the HTTP layer.
type OrderService interface {
	Checkout(ctx context.Context, caller identity.Identity, req order.CheckoutRequest) (*order.CheckoutResult, error)
	Get(ctx context.Context, caller identity.Identity, id string) (*order.Order, error)
	ListByParent(ctx context.Context, caller identity.Identity, parentOrderID string) ([]order.Order, error)
	ListByConsumer(ctx context.Context, caller identity.Identity, consumerID string, page pagination.Page) (*pagination.Result[order.Order], error)
	ListByVendor(ctx context.Context, caller identity.Identity, vendorID string, page pagination.Page) (*pagination.Result[order.Order], error)
	AdvanceStatus(ctx context.Context, caller identity.Identity, id string, upd order.StatusUpdate) (*order.Order, error)
	Cancel(ctx context.Context, caller identity.Identity, id, note string) (*order.Order, error)
}

// Orders serves the order API.
type Orders struct {
	svc OrderService
}

// NewOrders creates the order API handler.
func NewOrders(svc OrderService) *Orders {
	return &Orders{svc: svc}
}

// Mount registers the order routes on r. r is expected to authenticate.
func (h *Orders) Mount(r chi.Router) {
	r.Post("/api/orders", h.checkout)
	r.Get("/api/orders/{id}", h.get)
	r.Get("/api/orders/{id}/tracking", h.tracking)
	r.Patch("/api/orders/{id}/status", h.advance)
	r.Post("/api/orders/{id}/cancel", h.cancel)
	r.Get("/api/orders/parent/{parentId}", h.byParent)
	r.Get("/api/consumers/{id}/orders", h.byConsumer)
	r.Get("/api/vendors/{id}/orders", h.byVendor)
}

func (h *Orders) checkout(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}

	var req order.CheckoutRequest
	err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "consumerId":
			req.ConsumerID, err = optString(d)
		case "paymentId":
			req.PaymentID, err = d.Str()
		case "orderId", "parentOrderId":
			req.ParentOrderID, err = d.Str()
		case "shippingAddress":
			req.ShippingAddress, err = decodeAddress(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.Checkout(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("parentOrderId")
		e.Str(res.ParentOrderID)
		e.FieldStart("orderIds")
		e.ArrStart()
		for _, id := range res.OrderIDs {
			e.Str(id)
		}
		e.ArrEnd()
		e.FieldStart("orders")
		e.ArrStart()
		for _, o := range res.Orders {
			encodeOrder(e, o)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func (h *Orders) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	o, err := h.svc.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Orders) tracking(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	o, err := h.svc.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orderId")
		e.Str(o.ID)
		e.FieldStart("orderStatus")
		e.Str(string(o.Status))
		e.FieldStart("tracking")
		encodeTracking(e, o.Tracking)
		e.ObjEnd()
	})
}

func (h *Orders) advance(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}

	var upd order.StatusUpdate
	err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		var s string
		switch key {
		case "status", "orderStatus":
			s, err = d.Str()
			upd.Status = order.Status(s)
		case "carrier":
			upd.Carrier, err = optString(d)
		case "trackingNumber":
			upd.TrackingNumber, err = optString(d)
		case "note":
			upd.Note, err = optString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.svc.AdvanceStatus(r.Context(), caller, chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Orders) cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}

	var note string
	err := decodeBody(r, true, func(d *jx.Decoder, key string) (err error) {
		if key == "note" || key == "reason" {
			note, err = optString(d)
			return err
		}
		return d.Skip()
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.svc.Cancel(r.Context(), caller, chi.URLParam(r, "id"), note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Orders) byParent(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	orders, err := h.svc.ListByParent(r.Context(), caller, chi.URLParam(r, "parentId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

func (h *Orders) byConsumer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ListByConsumer(r.Context(), caller, chi.URLParam(r, "id"), pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePage(e, res, encodeOrder) })
}

func (h *Orders) byVendor(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ListByVendor(r.Context(), caller, chi.URLParam(r, "id"), pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePage(e, res, encodeOrder) })
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	err := d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "street":
			a.Street, err = optString(d)
		case "city":
			a.City, err = optString(d)
		case "state":
			a.State, err = optString(d)
		case "postalCode":
			a.PostalCode, err = optString(d)
		case "country":
			a.Country, err = optString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("parentOrderId")
	e.Str(o.ParentOrderID)
	e.FieldStart("consumerId")
	e.Str(o.ConsumerID)
	e.FieldStart("vendorId")
	e.Str(o.VendorID)
	e.FieldStart("paymentId")
	e.Str(o.PaymentID)
	e.FieldStart("paymentStatus")
	e.Str(string(o.PaymentStatus))
	e.FieldStart("orderStatus")
	e.Str(string(o.Status))
	money(e, "subtotalAmount", o.Subtotal)

	e.FieldStart("orderItems")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		money(e, "price", it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()

	a := o.ShippingAddress
	e.FieldStart("shippingAddress")
	e.ObjStart()
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("state")
	e.Str(a.State)
	e.FieldStart("postalCode")
	e.Str(a.PostalCode)
	e.FieldStart("country")
	e.Str(a.Country)
	e.ObjEnd()

	e.FieldStart("tracking")
	encodeTracking(e, o.Tracking)
	timestamp(e, "createdAt", o.CreatedAt)
	timestamp(e, "updatedAt", o.UpdatedAt)
	e.ObjEnd()
}

func encodeTracking(e *jx.Encoder, events []order.TrackingEvent) {
	e.ArrStart()
	for _, ev := range events {
		e.ObjStart()
		e.FieldStart("status")
		e.Str(string(ev.Status))
		timestamp(e, "timestamp", ev.Timestamp)
		if ev.Carrier != "" {
			e.FieldStart("carrier")
			e.Str(ev.Carrier)
		}
		if ev.TrackingNumber != "" {
			e.FieldStart("trackingNumber")
			e.Str(ev.TrackingNumber)
		}
		if ev.Note != "" {
			e.FieldStart("note")
			e.Str(ev.Note)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func timestamp(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339Nano))
}
