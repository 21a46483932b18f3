package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationOrderConfirmation NotificationKind = "order_confirmation"
	NotificationPaymentFailed     NotificationKind = "payment_failed"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is an outbound email queued in the same write as the status
// transition that caused it. At most one exists per (order, kind).
type Notification struct {
	ID            uuid.UUID          `json:"id"`
	OrderID       uuid.UUID          `json:"order_id"`
	Kind          NotificationKind   `json:"kind"`
	Recipient     string             `json:"recipient"`
	Status        NotificationStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	LastError     string             `json:"last_error,omitempty"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type NotificationStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

func NewNotification(orderID uuid.UUID, kind NotificationKind, recipient string, now time.Time) *Notification {
	return &Notification{
		ID:            uuid.New(),
		OrderID:       orderID,
		Kind:          kind,
		Recipient:     recipient,
		Status:        NotificationPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
