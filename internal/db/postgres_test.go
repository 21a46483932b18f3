package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

// newPostgresStore connects to DATABASE_URL and migrates it. Tests using it
// are skipped when no database is configured.
func newPostgresStore(t *testing.T) (*OrderStore, *pgxpool.Pool) {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Connect(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := NewMigrator(pool).Up(ctx, 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewOrderStore(pool), pool
}

func createPostgresOrder(t *testing.T, store *OrderStore, pool *pgxpool.Pool) *Order {
	t.Helper()

	order := &Order{
		CustomerID:       "customer-pg",
		LineItems:        []models.LineItem{{Name: "Momo", UnitPriceCents: 1000, Quantity: 2}},
		DeliveryFeeCents: 500,
		TotalAmountCents: 2500,
		Currency:         "nzd",
		Status:           StatusPending,
		DeliveryAddress:  models.DeliveryAddress{FirstName: "Pema", Email: "pema@example.com"},
	}
	if err := store.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM order_notifications WHERE order_id = $1`, order.ID)
		_, _ = pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, order.ID)
	})
	return order
}

func TestOrderStore_ConcurrentTransitionsApplyOnce(t *testing.T) {
	store, pool := newPostgresStore(t)
	ctx := context.Background()
	order := createPostgresOrder(t, store, pool)

	const workers = 8
	var (
		applied atomic.Int32
		wg      sync.WaitGroup
		start   = make(chan struct{})
		errs    = make(chan error, workers)
	)
	for i := 0; i < workers; i++ {
		change := models.StatusChange{From: StatusPending, To: StatusPaid}
		kind := models.NotificationOrderConfirmation
		if i%2 == 1 {
			change.To = StatusPaymentFailed
			change.Reason = "checkout expired"
			kind = models.NotificationPaymentFailed
		}
		change.Notification = models.NewNotification(order.ID, kind, "pema@example.com", time.Now())

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := store.Transition(ctx, order.ID, change)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				applied.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("transition: %v", err)
	}
	if got := applied.Load(); got != 1 {
		t.Fatalf("expected exactly one applied transition, got %d", got)
	}

	stored, err := store.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !stored.Status.IsTerminal() {
		t.Fatalf("expected a terminal status, got %s", stored.Status)
	}

	notifications, err := store.ListNotifications(ctx, order.ID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notifications))
	}
	wantKind := models.NotificationOrderConfirmation
	if stored.Status == StatusPaymentFailed {
		wantKind = models.NotificationPaymentFailed
	}
	if notifications[0].Kind != wantKind {
		t.Fatalf("notification kind %s does not match status %s", notifications[0].Kind, stored.Status)
	}
}

func TestOrderStore_StaleClaimCannotSettle(t *testing.T) {
	store, pool := newPostgresStore(t)
	ctx := context.Background()
	order := createPostgresOrder(t, store, pool)

	n := models.NewNotification(order.ID, models.NotificationOrderConfirmation, "pema@example.com", time.Now())
	if _, err := store.Transition(ctx, order.ID, models.StatusChange{From: StatusPending, To: StatusPaid, Notification: n}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	notifications, err := store.ListNotifications(ctx, order.ID)
	if err != nil || len(notifications) != 1 {
		t.Fatalf("expected one notification, got %d (err=%v)", len(notifications), err)
	}
	id := notifications[0].ID

	// Second claim of the row, as after a lapsed lease.
	if _, err := pool.Exec(ctx, `UPDATE order_notifications SET status = 'sending', attempts = 2 WHERE id = $1`, id); err != nil {
		t.Fatalf("simulate reclaim: %v", err)
	}

	if err := store.RescheduleNotification(ctx, id, 1, time.Now(), "timeout"); !errors.Is(err, ErrNotificationLeaseLost) {
		t.Fatalf("expected ErrNotificationLeaseLost, got %v", err)
	}
	if err := store.MarkNotificationSent(ctx, id, 2); err != nil {
		t.Fatalf("current claim should settle: %v", err)
	}
	if err := store.MarkNotificationFailed(ctx, id, 2, "late"); !errors.Is(err, ErrNotificationLeaseLost) {
		t.Fatalf("expected settled row to reject a second settle, got %v", err)
	}

	notifications, _ = store.ListNotifications(ctx, order.ID)
	if notifications[0].Status != models.NotificationSent {
		t.Fatalf("expected sent, got %s", notifications[0].Status)
	}
}
