package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

// MemoryStore is an in-process implementation of the order store and
// notification outbox. It is used for local development and tests; every
// read returns a copy so callers never share state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	orders        map[uuid.UUID]*Order
	bySessionRef  map[string]uuid.UUID
	notifications map[uuid.UUID]*Notification
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:        make(map[uuid.UUID]*Order),
		bySessionRef:  make(map[string]uuid.UUID),
		notifications: make(map[uuid.UUID]*Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Create(_ context.Context, order *Order) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if _, exists := m.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	now := m.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.CheckoutSessionRef = ""

	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, orderID uuid.UUID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (m *MemoryStore) GetByCheckoutSessionRef(_ context.Context, ref string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySessionRef[ref]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *MemoryStore) ListByCustomer(_ context.Context, customerID string, limit int) ([]*Order, error) {
	return m.list(func(o *Order) bool { return o.CustomerID == customerID }, ListFilter{Limit: limit}, true), nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Order, error) {
	return m.list(func(o *Order) bool {
		return filter.Status == "" || o.Status == filter.Status
	}, filter, true), nil
}

func (m *MemoryStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	return m.list(func(o *Order) bool {
		return o.Status == StatusPending && o.CreatedAt.Before(cutoff)
	}, ListFilter{Limit: limit}, false), nil
}

func (m *MemoryStore) list(match func(*Order) bool, filter ListFilter, newestFirst bool) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Order, 0)
	for _, order := range m.orders {
		if match(order) {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	offset := max(filter.Offset, 0)
	if offset >= len(out) {
		return []*Order{}
	}
	out = out[offset:]
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) BindCheckoutSession(_ context.Context, orderID uuid.UUID, ref string) error {
	if ref == "" {
		return fmt.Errorf("checkout session reference is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	if owner, taken := m.bySessionRef[ref]; taken && owner != orderID {
		return fmt.Errorf("%w: reference %s belongs to another order", ErrCheckoutSessionBound, ref)
	}
	if order.Status != StatusPending || order.CheckoutSessionRef != "" {
		return fmt.Errorf("%w: expected pending order without session", ErrCheckoutSessionBound)
	}

	order.CheckoutSessionRef = ref
	order.UpdatedAt = m.now()
	m.bySessionRef[ref] = orderID
	return nil
}

func (m *MemoryStore) Transition(_ context.Context, orderID uuid.UUID, change models.StatusChange) (bool, error) {
	if err := validateChange(change); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return false, models.ErrOrderNotFound
	}
	if order.Status != change.From {
		return false, nil
	}

	now := m.now()
	order.Status = change.To
	order.FailureReason = change.Reason
	order.UpdatedAt = now
	order.ClosedAt = &now
	if change.To == StatusPaid {
		paidAt := now
		order.PaidAt = &paidAt
	}

	if n := change.Notification; n != nil && !m.hasNotificationLocked(orderID, n.Kind) {
		queued := *n
		queued.OrderID = orderID
		queued.Status = models.NotificationPending
		queued.Attempts = 0
		queued.NextAttemptAt = now
		queued.CreatedAt = now
		queued.UpdatedAt = now
		m.notifications[queued.ID] = &queued
	}
	return true, nil
}

func (m *MemoryStore) OverrideStatus(_ context.Context, orderID uuid.UUID, status OrderStatus, reason string) (*Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	now := m.now()
	order.Status = status
	order.FailureReason = reason
	order.UpdatedAt = now
	if status == StatusPending {
		order.ClosedAt = nil
	} else if order.ClosedAt == nil {
		order.ClosedAt = &now
	}
	return cloneOrder(order), nil
}

func (m *MemoryStore) ClaimDueNotifications(_ context.Context, limit int, lease time.Duration) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	due := make([]*Notification, 0)
	for _, n := range m.notifications {
		if (n.Status == models.NotificationPending || n.Status == models.NotificationSending) && !n.NextAttemptAt.After(now) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Notification, 0, len(due))
	for _, n := range due {
		n.Status = models.NotificationSending
		n.Attempts++
		n.UpdatedAt = now
		n.NextAttemptAt = now.Add(lease)
		copied := *n
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (m *MemoryStore) MarkNotificationSent(_ context.Context, id uuid.UUID, attempt int) error {
	return m.settleNotification(id, attempt, func(n *Notification) {
		n.Status = models.NotificationSent
		n.LastError = ""
	})
}

func (m *MemoryStore) RescheduleNotification(_ context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time, lastErr string) error {
	return m.settleNotification(id, attempt, func(n *Notification) {
		n.Status = models.NotificationPending
		n.LastError = lastErr
		n.NextAttemptAt = nextAttemptAt
	})
}

func (m *MemoryStore) MarkNotificationFailed(_ context.Context, id uuid.UUID, attempt int, lastErr string) error {
	return m.settleNotification(id, attempt, func(n *Notification) {
		n.Status = models.NotificationFailed
		n.LastError = lastErr
	})
}

func (m *MemoryStore) NotificationStats(context.Context) (models.NotificationStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats models.NotificationStats
	for _, n := range m.notifications {
		if n.Status != models.NotificationPending && n.Status != models.NotificationSending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || n.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = n.CreatedAt
		}
	}
	return stats, nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, orderID uuid.UUID) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Notification, 0)
	for _, n := range m.notifications {
		if n.OrderID == orderID {
			copied := *n
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) settleNotification(id uuid.UUID, attempt int, apply func(*Notification)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if n.Status != models.NotificationSending || n.Attempts != attempt {
		return ErrNotificationLeaseLost
	}
	apply(n)
	n.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) hasNotificationLocked(orderID uuid.UUID, kind models.NotificationKind) bool {
	for _, n := range m.notifications {
		if n.OrderID == orderID && n.Kind == kind {
			return true
		}
	}
	return false
}

func cloneOrder(order *Order) *Order {
	copied := *order
	copied.LineItems = append([]models.LineItem(nil), order.LineItems...)
	if order.PaidAt != nil {
		paidAt := *order.PaidAt
		copied.PaidAt = &paidAt
	}
	if order.ClosedAt != nil {
		closedAt := *order.ClosedAt
		copied.ClosedAt = &closedAt
	}
	return &copied
}
