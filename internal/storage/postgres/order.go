package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
)

const orderColumns = `id, parent_order_id, consumer_id, vendor_id, payment_id, payment_status,
	status, subtotal, items, shipping_address, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertTrackingSQL = `INSERT INTO order_tracking (order_id, status, carrier, tracking_number, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByParentSQL = `SELECT ` + orderColumns + ` FROM orders WHERE parent_order_id = $1 ORDER BY seq`

	listOrdersByConsumerSQL = `SELECT ` + orderColumns + ` FROM orders WHERE consumer_id = $1
		ORDER BY created_at DESC, seq DESC LIMIT $2 OFFSET $3`

	countOrdersByConsumerSQL = `SELECT count(*) FROM orders WHERE consumer_id = $1`

	listOrdersByVendorSQL = `SELECT ` + orderColumns + ` FROM orders WHERE vendor_id = $1
		ORDER BY created_at DESC, seq DESC LIMIT $2 OFFSET $3`

	countOrdersByVendorSQL = `SELECT count(*) FROM orders WHERE vendor_id = $1`

	orderExistsByPaymentSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE payment_id = $1)`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	listTrackingSQL = `SELECT order_id, status, carrier, tracking_number, note, created_at
		FROM order_tracking WHERE order_id = ANY($1) ORDER BY id`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Tracking
// events live in their own append-only table.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateBatch inserts all orders and their initial tracking events in one
// transaction.
func (r *OrderRepository) CreateBatch(ctx context.Context, orders []*order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(ctx, tx)

	for _, o := range orders {
		itemsJSON, err := json.Marshal(o.Items)
		if err != nil {
			return fmt.Errorf("marshaling order items: %w", err)
		}
		addrJSON, err := json.Marshal(o.ShippingAddress)
		if err != nil {
			return fmt.Errorf("marshaling shipping address: %w", err)
		}
		_, err = tx.Exec(ctx, insertOrderSQL,
			o.ID, o.ParentOrderID, o.ConsumerID, o.VendorID, o.PaymentID, string(o.PaymentStatus),
			string(o.Status), o.Subtotal, itemsJSON, addrJSON, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return order.ErrDuplicate
			}
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}
		for _, ev := range o.Tracking {
			if err := insertTracking(ctx, tx, o.ID, ev); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing orders: %w", err)
	}
	return nil
}

// GetByID returns an order with its full tracking history.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachTracking(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByParent returns the child orders of a checkout in creation order.
func (r *OrderRepository) ListByParent(ctx context.Context, parentOrderID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByParentSQL, parentOrderID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", parentOrderID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", parentOrderID, err)
	}
	if err := r.attachTracking(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListByConsumer returns a page of the consumer's orders, newest first.
func (r *OrderRepository) ListByConsumer(ctx context.Context, consumerID string, page pagination.Page) ([]order.Order, int, error) {
	return r.listPage(ctx, countOrdersByConsumerSQL, listOrdersByConsumerSQL, consumerID, page)
}

// ListByVendor returns a page of the vendor's orders, newest first.
func (r *OrderRepository) ListByVendor(ctx context.Context, vendorID string, page pagination.Page) ([]order.Order, int, error) {
	return r.listPage(ctx, countOrdersByVendorSQL, listOrdersByVendorSQL, vendorID, page)
}

func (r *OrderRepository) listPage(ctx context.Context, countSQL, listSQL, key string, page pagination.Page) ([]order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, key).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}
	if total == 0 {
		return []order.Order{}, 0, nil
	}

	rows, err := r.pool.Query(ctx, listSQL, key, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachTracking(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ExistsByPayment reports whether any order references the payment.
func (r *OrderRepository) ExistsByPayment(ctx context.Context, paymentID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsByPaymentSQL, paymentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking payment %q usage: %w", paymentID, err)
	}
	return exists, nil
}

// AppendTracking moves the order from status from to ev.Status and records
// ev, in one transaction. The update only applies while the stored status
// still equals from.
func (r *OrderRepository) AppendTracking(ctx context.Context, id string, from order.Status, ev order.TrackingEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(ctx, tx)

	tag, err := tx.Exec(ctx, updateOrderStatusSQL, id, string(from), string(ev.Status), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
			return fmt.Errorf("checking order %q: %w", id, err)
		}
		if !exists {
			return order.ErrNotFound
		}
		return order.ErrStaleStatus
	}
	if err := insertTracking(ctx, tx, id, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tracking event: %w", err)
	}
	return nil
}

func insertTracking(ctx context.Context, tx pgx.Tx, orderID string, ev order.TrackingEvent) error {
	_, err := tx.Exec(ctx, insertTrackingSQL,
		orderID, string(ev.Status), ev.Carrier, ev.TrackingNumber, ev.Note, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting tracking event for %q: %w", orderID, err)
	}
	return nil
}

// attachTracking loads the tracking history of every order in one query.
func (r *OrderRepository) attachTracking(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
	}

	rows, err := r.pool.Query(ctx, listTrackingSQL, ids)
	if err != nil {
		return fmt.Errorf("listing tracking events: %w", err)
	}
	type trackingRow struct {
		orderID string
		event   order.TrackingEvent
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (trackingRow, error) {
		var (
			tr     trackingRow
			status string
		)
		err := row.Scan(&tr.orderID, &status, &tr.event.Carrier, &tr.event.TrackingNumber,
			&tr.event.Note, &tr.event.Timestamp)
		tr.event.Status = order.Status(status)
		tr.event.Timestamp = tr.event.Timestamp.UTC()
		return tr, err
	})
	if err != nil {
		return fmt.Errorf("scanning tracking events: %w", err)
	}
	for _, tr := range events {
		i := index[tr.orderID]
		orders[i].Tracking = append(orders[i].Tracking, tr.event)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                     order.Order
		paymentStatus, status string
		itemsJSON, addrJSON   []byte
		createdAt, updatedAt  time.Time
	)
	err := row.Scan(
		&o.ID, &o.ParentOrderID, &o.ConsumerID, &o.VendorID, &o.PaymentID, &paymentStatus,
		&status, &o.Subtotal, &itemsJSON, &addrJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(addrJSON, &o.ShippingAddress); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling shipping address: %w", err)
	}
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	o.CreatedAt = createdAt.UTC()
	o.UpdatedAt = updatedAt.UTC()
	return o, nil
}
