package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/internal/domain/pagination"
	"github.com/xenking/marketplace-checkout/internal/domain/payment"
)

const paymentColumns = `id, consumer_id, amount, currency, status, receipt_url,
	subtotal, tax, total, items, created_at, updated_at`

const (
	insertPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getPaymentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	updatePaymentStatusSQL = `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`

	countPaymentsByConsumerSQL = `SELECT count(*) FROM payments WHERE consumer_id = $1`

	listPaymentsByConsumerSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE consumer_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool, now: time.Now}
}

// Create persists a new payment record and stamps its timestamps.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	itemsJSON, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("marshaling payment items: %w", err)
	}
	now := r.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = r.pool.Exec(ctx, insertPaymentSQL,
		p.ID, p.ConsumerID, p.Amount, p.Currency, string(p.Status), p.ReceiptURL,
		p.Subtotal, p.Tax, p.Total, itemsJSON, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a single payment.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	rows, err := r.pool.Query(ctx, getPaymentSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", id, err)
	}
	return &p, nil
}

// UpdateStatus overwrites the payment status.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status payment.Status) error {
	tag, err := r.pool.Exec(ctx, updatePaymentStatusSQL, id, string(status), r.now().UTC())
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotFound
	}
	return nil
}

// ListByConsumer returns a page of the consumer's payments, newest first.
func (r *PaymentRepository) ListByConsumer(ctx context.Context, consumerID string, page pagination.Page) ([]payment.Payment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countPaymentsByConsumerSQL, consumerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting payments: %w", err)
	}
	if total == 0 {
		return []payment.Payment{}, 0, nil
	}
	rows, err := r.pool.Query(ctx, listPaymentsByConsumerSQL, consumerID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("listing payments: %w", err)
	}
	payments, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, 0, fmt.Errorf("listing payments: %w", err)
	}
	return payments, total, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p         payment.Payment
		status    string
		itemsJSON []byte
	)
	err := row.Scan(
		&p.ID, &p.ConsumerID, &p.Amount, &p.Currency, &status, &p.ReceiptURL,
		&p.Subtotal, &p.Tax, &p.Total, &itemsJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return payment.Payment{}, err
	}
	if err := json.Unmarshal(itemsJSON, &p.Items); err != nil {
		return payment.Payment{}, fmt.Errorf("unmarshaling payment items: %w", err)
	}
	p.Status = payment.Status(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
