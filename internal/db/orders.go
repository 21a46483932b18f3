package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

const uniqueViolationCode = "23505"

const orderColumns = `id, customer_id, line_items, delivery_fee_cents, total_amount_cents, currency,
	status, checkout_session_ref, delivery_address, failure_reason, created_at, updated_at, paid_at, closed_at`

// OrderStore persists orders and their notification outbox in PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *OrderStore) Create(ctx context.Context, order *Order) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := s.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	itemsJSON, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	addressJSON, err := json.Marshal(order.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("failed to encode delivery address: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (id, customer_id, line_items, delivery_fee_cents, total_amount_cents, currency,
			status, delivery_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, order.ID, order.CustomerID, itemsJSON, order.DeliveryFeeCents, order.TotalAmountCents, order.Currency,
		string(order.Status), addressJSON, now)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

func (s *OrderStore) GetByCheckoutSessionRef(ctx context.Context, ref string) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE checkout_session_ref = $1`, ref)
	return scanOrder(row)
}

func (s *OrderStore) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, ListFilter{Limit: limit}.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to list customer orders: %w", err)
	}
	return collectOrders(rows)
}

func (s *OrderStore) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(filter.Status), filter.limit(), max(filter.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return collectOrders(rows)
}

// ListStalePending returns pending orders created before cutoff, oldest first.
func (s *OrderStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, ListFilter{Limit: limit}.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending orders: %w", err)
	}
	return collectOrders(rows)
}

// BindCheckoutSession records the provider session reference. It succeeds only
// once per order and only while the order is pending.
func (s *OrderStore) BindCheckoutSession(ctx context.Context, orderID uuid.UUID, ref string) error {
	if ref == "" {
		return fmt.Errorf("checkout session reference is required")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET checkout_session_ref = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND checkout_session_ref IS NULL
	`, orderID, ref, s.now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: reference %s belongs to another order", ErrCheckoutSessionBound, ref)
		}
		return fmt.Errorf("failed to bind checkout session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.exists(ctx, s.pool, orderID)
		if err != nil {
			return err
		}
		if !exists {
			return models.ErrOrderNotFound
		}
		return fmt.Errorf("%w: expected pending order without session", ErrCheckoutSessionBound)
	}
	return nil
}

// Transition applies change only if the order's current status equals
// change.From. The status update and the notification insert commit together.
func (s *OrderStore) Transition(ctx context.Context, orderID uuid.UUID, change models.StatusChange) (bool, error) {
	if err := validateChange(change); err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transition: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := s.now()
	var paidAt *time.Time
	if change.To == StatusPaid {
		paidAt = &now
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $3,
			failure_reason = NULLIF($4, ''),
			updated_at = $5,
			closed_at = $5,
			paid_at = COALESCE($6, paid_at)
		WHERE id = $1 AND status = $2
	`, orderID, string(change.From), string(change.To), change.Reason, now, paidAt)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		exists, err := s.exists(ctx, tx, orderID)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, models.ErrOrderNotFound
		}
		return false, nil
	}

	if n := change.Notification; n != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_notifications (id, order_id, kind, recipient, status, attempts, next_attempt_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'pending', 0, $5, $5, $5)
			ON CONFLICT (order_id, kind) DO NOTHING
		`, n.ID, orderID, string(n.Kind), n.Recipient, now); err != nil {
			return false, fmt.Errorf("failed to enqueue notification: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}
	return true, nil
}

// OverrideStatus is the administrative escape hatch. It writes status
// unconditionally and enqueues nothing.
func (s *OrderStore) OverrideStatus(ctx context.Context, orderID uuid.UUID, status OrderStatus, reason string) (*Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, status)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = $2,
			failure_reason = NULLIF($3, ''),
			updated_at = $4,
			closed_at = CASE WHEN $2::text = 'pending' THEN NULL ELSE COALESCE(closed_at, $4) END
		WHERE id = $1
		RETURNING `+orderColumns, orderID, string(status), reason, s.now())
	return scanOrder(row)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *OrderStore) exists(ctx context.Context, q queryRower, orderID uuid.UUID) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check order existence: %w", err)
	}
	return exists, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order         Order
		itemsJSON     []byte
		addressJSON   []byte
		status        string
		sessionRef    *string
		failureReason *string
	)
	err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&itemsJSON,
		&order.DeliveryFeeCents,
		&order.TotalAmountCents,
		&order.Currency,
		&status,
		&sessionRef,
		&addressJSON,
		&failureReason,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.PaidAt,
		&order.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.LineItems); err != nil {
		return nil, fmt.Errorf("failed to decode line items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &order.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("failed to decode delivery address: %w", err)
	}
	order.Status = OrderStatus(status)
	if sessionRef != nil {
		order.CheckoutSessionRef = *sessionRef
	}
	if failureReason != nil {
		order.FailureReason = *failureReason
	}
	return &order, nil
}

func collectOrders(rows pgx.Rows) ([]*Order, error) {
	defer rows.Close()

	orders := make([]*Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}
