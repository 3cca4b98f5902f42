package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
	"github.com/xenking/marketplace-checkout/internal/domain/payment"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

type fakePayments struct {
	byID map[string]*payment.Payment
	err  error
}

func (f *fakePayments) Get(_ context.Context, id string) (*payment.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

type fakeCarts struct {
	mu       sync.Mutex
	carts    map[string]*cart.Cart
	clearErr error
	cleared  []string
}

func (f *fakeCarts) Get(_ context.Context, consumerID string) (*cart.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.carts[consumerID]; ok {
		return c, nil
	}
	return &cart.Cart{ConsumerID: consumerID}, nil
}

func (f *fakeCarts) Clear(_ context.Context, consumerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.carts, consumerID)
	f.cleared = append(f.cleared, consumerID)
	return nil
}

type fakeProducts struct {
	byID map[string]product.Product
	errs map[string]error
}

func (f *fakeProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

// memRepo is an in-memory Order Ledger.
type memRepo struct {
	mu        sync.Mutex
	byID      map[string]*Order
	createErr error
	appendErr error
}

func newMemRepo() *memRepo { return &memRepo{byID: map[string]*Order{}} }

func (r *memRepo) CreateBatch(_ context.Context, orders []*Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, o := range orders {
		for _, existing := range r.byID {
			if existing.ParentOrderID == o.ParentOrderID && existing.VendorID == o.VendorID {
				return ErrDuplicate
			}
		}
	}
	for _, o := range orders {
		cp := *o
		cp.Tracking = append([]TrackingEvent(nil), o.Tracking...)
		r.byID[o.ID] = &cp
	}
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Tracking = append([]TrackingEvent(nil), o.Tracking...)
	return &cp, nil
}

func (r *memRepo) filter(keep func(*Order) bool) []Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.byID {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })
	return out
}

func (r *memRepo) ListByParent(_ context.Context, parentOrderID string) ([]Order, error) {
	return r.filter(func(o *Order) bool { return o.ParentOrderID == parentOrderID }), nil
}

func (r *memRepo) ListByConsumer(_ context.Context, consumerID string, _ pagination.Page) ([]Order, int, error) {
	out := r.filter(func(o *Order) bool { return o.ConsumerID == consumerID })
	return out, len(out), nil
}

func (r *memRepo) ListByVendor(_ context.Context, vendorID string, _ pagination.Page) ([]Order, int, error) {
	out := r.filter(func(o *Order) bool { return o.VendorID == vendorID })
	return out, len(out), nil
}

func (r *memRepo) ExistsByPayment(_ context.Context, paymentID string) (bool, error) {
	return len(r.filter(func(o *Order) bool { return o.PaymentID == paymentID })) > 0, nil
}

func (r *memRepo) AppendTracking(_ context.Context, id string, from Status, ev TrackingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	o, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStaleStatus
	}
	o.Status = ev.Status
	o.UpdatedAt = ev.Timestamp
	o.Tracking = append(o.Tracking, ev)
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, events ...Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return f.err
}

type fakeLocker struct {
	held     map[string]bool
	err      error
	unlocked []string
}

func (f *fakeLocker) Lock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.held[key] {
		return nil, ErrLocked
	}
	f.held[key] = true
	return func(context.Context) error {
		delete(f.held, key)
		f.unlocked = append(f.unlocked, key)
		return nil
	}, nil
}

var errBoom = errors.New("boom")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
