//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
	"github.com/xenking/marketplace-checkout/internal/domain/payment"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("checkout"),
		tcpostgres.WithPassword("checkout"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func newOrder(parent, vendor string, at time.Time) *order.Order {
	return &order.Order{
		ID:            uuid.NewString(),
		ParentOrderID: parent,
		ConsumerID:    "c1",
		VendorID:      vendor,
		PaymentID:     "pi_" + parent,
		PaymentStatus: order.PaymentSucceeded,
		Status:        order.StatusPending,
		Subtotal:      decimal.RequireFromString("20.98"),
		Items: []order.OrderItem{
			{ProductID: "p1", Quantity: 2, Price: decimal.RequireFromString("10.49")},
		},
		ShippingAddress: order.Address{Street: "1 Main", City: "X", PostalCode: "1", Country: "US"},
		Tracking:        []order.TrackingEvent{{Status: order.StatusPending, Timestamp: at}},
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func TestOrderRepository(t *testing.T) {
	pool := setupPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	a, b := newOrder("parent-1", "vA", now), newOrder("parent-1", "vB", now)
	require.NoError(t, repo.CreateBatch(ctx, []*order.Order{a, b}))

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "vA", got.VendorID)
		assert.True(t, a.Subtotal.Equal(got.Subtotal))
		require.Len(t, got.Items, 1)
		assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("10.49")))
		assert.Equal(t, a.ShippingAddress, got.ShippingAddress)
		require.Len(t, got.Tracking, 1)
		assert.Equal(t, order.StatusPending, got.Tracking[0].Status)

		_, err = repo.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("by parent keeps creation order", func(t *testing.T) {
		got, err := repo.ListByParent(ctx, "parent-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, a.ID, got[0].ID)
		assert.Equal(t, b.ID, got[1].ID)
	})

	t.Run("duplicate batch is rejected whole", func(t *testing.T) {
		c := newOrder("parent-1", "vC", now)
		dup := newOrder("parent-1", "vA", now)
		err := repo.CreateBatch(ctx, []*order.Order{c, dup})
		assert.ErrorIs(t, err, order.ErrDuplicate)

		_, err = repo.GetByID(ctx, c.ID)
		assert.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("payment usage", func(t *testing.T) {
		used, err := repo.ExistsByPayment(ctx, "pi_parent-1")
		require.NoError(t, err)
		assert.True(t, used)

		used, err = repo.ExistsByPayment(ctx, "pi_other")
		require.NoError(t, err)
		assert.False(t, used)
	})

	t.Run("pagination", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			o := newOrder(uuid.NewString(), "vA", now.Add(time.Duration(i+1)*time.Minute))
			require.NoError(t, repo.CreateBatch(ctx, []*order.Order{o}))
		}
		page1, total, err := repo.ListByVendor(ctx, "vA", pagination.Page{Number: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, page1, 2)
		assert.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt))

		page3, _, err := repo.ListByVendor(ctx, "vA", pagination.Page{Number: 3, Limit: 2})
		require.NoError(t, err)
		assert.Empty(t, page3)

		mine, total, err := repo.ListByConsumer(ctx, "c1", pagination.Page{Number: 1, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Len(t, mine, 5)

		none, total, err := repo.ListByConsumer(ctx, "nobody", pagination.Page{Number: 1, Limit: 10})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, none)
	})

	t.Run("append tracking", func(t *testing.T) {
		ev := order.TrackingEvent{Status: order.StatusProcessing, Timestamp: now.Add(time.Hour), Note: "packing"}
		require.NoError(t, repo.AppendTracking(ctx, a.ID, order.StatusPending, ev))
		// Same status again appends another event.
		require.NoError(t, repo.AppendTracking(ctx, a.ID, order.StatusProcessing, ev))

		err := repo.AppendTracking(ctx, a.ID, order.StatusPending, ev)
		assert.ErrorIs(t, err, order.ErrStaleStatus)

		err = repo.AppendTracking(ctx, uuid.NewString(), order.StatusPending, ev)
		assert.ErrorIs(t, err, order.ErrNotFound)

		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusProcessing, got.Status)
		require.Len(t, got.Tracking, 3)
		assert.Equal(t, "packing", got.Tracking[2].Note)
	})

	t.Run("concurrent transitions have one winner", func(t *testing.T) {
		ev := order.TrackingEvent{Status: order.StatusCancelled, Timestamp: now}
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.AppendTracking(ctx, b.ID, order.StatusPending, ev)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}()
		}
		wg.Wait()

		var ok int
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, order.ErrStaleStatus)
		}
		assert.Equal(t, 1, ok)
	})
}

func TestPaymentRepository(t *testing.T) {
	pool := setupPool(t)
	repo := NewPaymentRepository(pool)
	ctx := context.Background()

	p := &payment.Payment{
		ID:         "pi_1",
		ConsumerID: "c1",
		Amount:     11500,
		Currency:   "usd",
		Status:     payment.StatusSucceeded,
		Subtotal:   decimal.RequireFromString("100.00"),
		Tax:        decimal.RequireFromString("15.00"),
		Total:      decimal.RequireFromString("115.00"),
		Items: []payment.LineItem{
			{ProductID: "p1", VendorID: "vA", Price: decimal.RequireFromString("50.00"), Quantity: 2},
		},
	}
	require.NoError(t, repo.Create(ctx, p))
	assert.False(t, p.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, int64(11500), got.Amount)
	assert.True(t, got.Total.Equal(p.Total))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "vA", got.Items[0].VendorID)

	require.NoError(t, repo.UpdateStatus(ctx, "pi_1", payment.StatusCanceled))
	got, err = repo.GetByID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCanceled, got.Status)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "pi_x", payment.StatusCanceled), payment.ErrNotFound)
	_, err = repo.GetByID(ctx, "pi_x")
	assert.ErrorIs(t, err, payment.ErrNotFound)

	list, total, err := repo.ListByConsumer(ctx, "c1", pagination.Page{Number: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)
}
