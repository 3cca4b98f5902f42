package order

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/marketplace-checkout/internal/domain/cart"
	"github.com/xenking/marketplace-checkout/internal/domain/payment"
	"github.com/xenking/marketplace-checkout/internal/domain/product"
)

const instrumentationName = "github.com/xenking/marketplace-checkout/internal/domain/order"

// PaymentLookup reads payments from the Payment Processor.
type PaymentLookup interface {
	Get(ctx context.Context, id string) (*payment.Payment, error)
}

// ProductReader reads live product records from the catalog.
type ProductReader interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Options holds optional collaborators and tuning of the Service.
type Options struct {
	// Locker serializes checkouts per consumer. Nil disables locking.
	Locker Locker
	// LockTTL bounds how long a checkout lock is held. Defaults to 30s.
	LockTTL time.Duration
	// Publisher receives ledger events. Nil disables publishing.
	Publisher Publisher
	// LookupConcurrency bounds parallel product lookups. Defaults to 4;
	// 1 processes items sequentially.
	LookupConcurrency int
	MeterProvider     metric.MeterProvider
	TracerProvider    trace.TracerProvider
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service implements checkout and the order ledger operations.
type Service struct {
	payments PaymentLookup
	carts    cart.Store
	products ProductReader
	orders   Repository

	locker      Locker
	lockTTL     time.Duration
	publisher   Publisher
	concurrency int
	now         func() time.Time
	tracer      trace.Tracer
	metrics     checkoutMetrics
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	payments PaymentLookup,
	carts cart.Store,
	products ProductReader,
	orders Repository,
	opts Options,
) *Service {
	if opts.Locker == nil {
		opts.Locker = nopLocker{}
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.Publisher == nil {
		opts.Publisher = nopPublisher{}
	}
	if opts.LookupConcurrency <= 0 {
		opts.LookupConcurrency = 4
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		payments:    payments,
		carts:       carts,
		products:    products,
		orders:      orders,
		locker:      opts.Locker,
		lockTTL:     opts.LockTTL,
		publisher:   opts.Publisher,
		concurrency: opts.LookupConcurrency,
		now:         opts.Now,
		tracer:      opts.TracerProvider.Tracer(instrumentationName),
		metrics:     newCheckoutMetrics(opts.MeterProvider.Meter(instrumentationName)),
	}
}

type checkoutMetrics struct {
	completed metric.Int64Counter
	failed    metric.Int64Counter
	created   metric.Int64Counter
}

func newCheckoutMetrics(m metric.Meter) checkoutMetrics {
	var (
		cm  checkoutMetrics
		err error
		nop = metricnoop.Meter{}
	)
	if cm.completed, err = m.Int64Counter("checkout.completed",
		metric.WithDescription("Checkouts that persisted their child orders")); err != nil {
		cm.completed, _ = nop.Int64Counter("checkout.completed")
	}
	if cm.failed, err = m.Int64Counter("checkout.failed",
		metric.WithDescription("Checkouts aborted before persisting any order")); err != nil {
		cm.failed, _ = nop.Int64Counter("checkout.failed")
	}
	if cm.created, err = m.Int64Counter("orders.created",
		metric.WithDescription("Child orders persisted by checkout")); err != nil {
		cm.created, _ = nop.Int64Counter("orders.created")
	}
	return cm
}
