package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace-checkout/internal/domain/identity"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
	"github.com/xenking/marketplace-checkout/internal/domain/payment"
)

// PaymentService is the payment domain as seen by the HTTP layer.
type PaymentService interface {
	Create(ctx context.Context, caller identity.Identity, req payment.CreateRequest) (*payment.Payment, error)
	Get(ctx context.Context, caller identity.Identity, id string) (*payment.Payment, error)
	Cancel(ctx context.Context, caller identity.Identity, id string) (*payment.Payment, error)
	ListByConsumer(ctx context.Context, caller identity.Identity, consumerID string, page pagination.Page) (*pagination.Result[payment.Payment], error)
}

// Payments serves the payment API.
type Payments struct {
	svc PaymentService
}

// NewPayments creates the payment API handler.
func NewPayments(svc PaymentService) *Payments {
	return &Payments{svc: svc}
}

// Mount registers the payment routes on r. r is expected to authenticate.
func (h *Payments) Mount(r chi.Router) {
	r.Post("/api/payments", h.create)
	r.Get("/api/payments/{id}", h.get)
	r.Post("/api/payments/{id}/cancel", h.cancel)
	r.Get("/api/consumers/{id}/payments", h.byConsumer)
}

func (h *Payments) create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}

	var req payment.CreateRequest
	err := decodeBody(r, false, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "consumerId":
			req.ConsumerID, err = optString(d)
		case "amount":
			req.Amount, err = decimalField(d)
		case "currency":
			req.Currency, err = optString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.svc.Create(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePayment(e, p) })
}

func (h *Payments) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
}

func (h *Payments) cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Cancel(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p) })
}

func (h *Payments) byConsumer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	res, err := h.svc.ListByConsumer(r.Context(), caller, chi.URLParam(r, "id"), pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePage(e, res, encodePayment) })
}

func encodePayment(e *jx.Encoder, p *payment.Payment) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("consumerId")
	e.Str(p.ConsumerID)
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.FieldStart("amount")
	e.Int64(p.Amount)
	e.FieldStart("currency")
	e.Str(p.Currency)
	if p.ReceiptURL != "" {
		e.FieldStart("receiptUrl")
		e.Str(p.ReceiptURL)
	}
	money(e, "subtotal", p.Subtotal)
	money(e, "tax", p.Tax)
	money(e, "total", p.Total)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range p.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("vendorId")
		e.Str(it.VendorID)
		money(e, "price", it.Price)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()

	timestamp(e, "createdAt", p.CreatedAt)
	timestamp(e, "updatedAt", p.UpdatedAt)
	e.ObjEnd()
}
