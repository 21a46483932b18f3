package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

const notificationColumns = `id, order_id, kind, recipient, status, attempts, COALESCE(last_error, ''),
	next_attempt_at, created_at, updated_at`

// ClaimDueNotifications leases up to limit due notifications. Claimed rows move
// to sending with next_attempt_at pushed out by lease, so a worker that dies
// mid-send releases them once the lease lapses.
func (s *OrderStore) ClaimDueNotifications(ctx context.Context, limit int, lease time.Duration) ([]*Notification, error) {
	now := s.now()
	rows, err := s.pool.Query(ctx, `
		UPDATE order_notifications
		SET status = 'sending', attempts = attempts + 1, updated_at = $1, next_attempt_at = $3
		WHERE id IN (
			SELECT id FROM order_notifications
			WHERE status IN ('pending', 'sending') AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}
	defer rows.Close()

	claimed := make([]*Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed notifications: %w", err)
	}
	return claimed, nil
}

// The settle methods below only apply to the claim identified by attempt.
// A worker whose lease lapsed gets ErrNotificationLeaseLost instead of
// overwriting the state written by the worker that reclaimed the row.

func (s *OrderStore) MarkNotificationSent(ctx context.Context, id uuid.UUID, attempt int) error {
	return s.settleNotification(ctx, `
		UPDATE order_notifications
		SET status = 'sent', last_error = NULL, updated_at = $3
		WHERE id = $1 AND status = 'sending' AND attempts = $2
	`, id, attempt, s.now())
}

func (s *OrderStore) RescheduleNotification(ctx context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time, lastErr string) error {
	return s.settleNotification(ctx, `
		UPDATE order_notifications
		SET status = 'pending', last_error = $4, next_attempt_at = $5, updated_at = $3
		WHERE id = $1 AND status = 'sending' AND attempts = $2
	`, id, attempt, s.now(), lastErr, nextAttemptAt)
}

func (s *OrderStore) MarkNotificationFailed(ctx context.Context, id uuid.UUID, attempt int, lastErr string) error {
	return s.settleNotification(ctx, `
		UPDATE order_notifications
		SET status = 'failed', last_error = $4, updated_at = $3
		WHERE id = $1 AND status = 'sending' AND attempts = $2
	`, id, attempt, s.now(), lastErr)
}

func (s *OrderStore) NotificationStats(ctx context.Context) (models.NotificationStats, error) {
	var (
		stats  models.NotificationStats
		oldest *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM order_notifications
		WHERE status IN ('pending', 'sending')
	`).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return stats, fmt.Errorf("failed to query notification stats: %w", err)
	}
	if oldest != nil {
		stats.OldestPendingAt = *oldest
	}
	return stats, nil
}

// ListNotifications returns the notifications recorded for an order.
func (s *OrderStore) ListNotifications(ctx context.Context, orderID uuid.UUID) ([]*Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM order_notifications
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *OrderStore) settleNotification(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationLeaseLost
	}
	return nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n      Notification
		kind   string
		status string
	)
	if err := row.Scan(
		&n.ID,
		&n.OrderID,
		&kind,
		&n.Recipient,
		&status,
		&n.Attempts,
		&n.LastError,
		&n.NextAttemptAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	n.Kind = models.NotificationKind(kind)
	n.Status = models.NotificationStatus(status)
	return &n, nil
}
