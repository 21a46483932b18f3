package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

func sessionPayload(t *testing.T, sessionID string, orderID uuid.UUID, paymentStatus string) []byte {
	t.Helper()

	metadata := map[string]string{}
	if orderID != uuid.Nil {
		metadata["order_id"] = orderID.String()
	}
	payload, err := json.Marshal(map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": paymentStatus,
		"status":         "complete",
		"metadata":       metadata,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func TestStripeService_DuplicateCompletedSendsOneEmail(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	order := h.placeMomoOrder(t)
	payload := sessionPayload(t, order.CheckoutSessionRef, order.ID, "paid")

	for i := 0; i < 3; i++ {
		if err := h.stripe.HandleCheckoutSessionCompleted(ctx, payload); err != nil {
			t.Fatalf("delivery %d: HandleCheckoutSessionCompleted() error = %v", i, err)
		}
		h.notifier.ProcessOnce(ctx)
	}

	if got := h.status(t, order.ID); got != models.StatusPaid {
		t.Fatalf("expected paid, got %s", got)
	}
	if got := h.sender.count(models.NotificationOrderConfirmation); got != 1 {
		t.Fatalf("expected one confirmation email, got %d", got)
	}
}

func TestStripeService_ExpiredThenCompletedIsIgnored(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	order := h.placeMomoOrder(t)

	if err := h.stripe.HandleCheckoutSessionExpired(ctx, sessionPayload(t, order.CheckoutSessionRef, order.ID, "unpaid")); err != nil {
		t.Fatalf("HandleCheckoutSessionExpired() error = %v", err)
	}
	h.notifier.ProcessOnce(ctx)

	if got := h.status(t, order.ID); got != models.StatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", got)
	}
	if got := h.sender.count(models.NotificationPaymentFailed); got != 1 {
		t.Fatalf("expected one failure email, got %d", got)
	}

	if err := h.stripe.HandleCheckoutSessionCompleted(ctx, sessionPayload(t, order.CheckoutSessionRef, order.ID, "paid")); err != nil {
		t.Fatalf("HandleCheckoutSessionCompleted() error = %v", err)
	}
	h.notifier.ProcessOnce(ctx)

	if got := h.status(t, order.ID); got != models.StatusPaymentFailed {
		t.Fatalf("expected payment_failed to stick, got %s", got)
	}
	if got := h.sender.count(models.NotificationOrderConfirmation); got != 0 {
		t.Fatalf("expected no confirmation email, got %d", got)
	}
}

func TestStripeService_CompletedUnpaidWaitsForAsyncResult(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	order := h.placeMomoOrder(t)

	if err := h.stripe.HandleCheckoutSessionCompleted(ctx, sessionPayload(t, order.CheckoutSessionRef, order.ID, "unpaid")); err != nil {
		t.Fatalf("HandleCheckoutSessionCompleted() error = %v", err)
	}
	if got := h.status(t, order.ID); got != models.StatusPending {
		t.Fatalf("expected pending while payment settles, got %s", got)
	}

	if err := h.stripe.HandleCheckoutSessionAsyncPaymentSucceeded(ctx, sessionPayload(t, order.CheckoutSessionRef, order.ID, "paid")); err != nil {
		t.Fatalf("HandleCheckoutSessionAsyncPaymentSucceeded() error = %v", err)
	}
	if got := h.status(t, order.ID); got != models.StatusPaid {
		t.Fatalf("expected paid, got %s", got)
	}
}

func TestStripeService_AsyncPaymentFailed(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	order := h.placeMomoOrder(t)

	if err := h.stripe.HandleCheckoutSessionAsyncPaymentFailed(context.Background(), sessionPayload(t, order.CheckoutSessionRef, order.ID, "unpaid")); err != nil {
		t.Fatalf("HandleCheckoutSessionAsyncPaymentFailed() error = %v", err)
	}
	stored, _ := h.store.GetByID(context.Background(), order.ID)
	if stored.Status != models.StatusPaymentFailed || stored.FailureReason != ReasonAsyncPaymentFailed {
		t.Fatalf("unexpected order status=%s reason=%q", stored.Status, stored.FailureReason)
	}
}

func TestStripeService_FallsBackToSessionReference(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	order := h.placeMomoOrder(t)

	if err := h.stripe.HandleCheckoutSessionCompleted(context.Background(), sessionPayload(t, order.CheckoutSessionRef, uuid.Nil, "paid")); err != nil {
		t.Fatalf("HandleCheckoutSessionCompleted() error = %v", err)
	}
	if got := h.status(t, order.ID); got != models.StatusPaid {
		t.Fatalf("expected lookup by session reference to confirm, got %s", got)
	}
}

func TestStripeService_IgnoresForeignEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload func(*testing.T, *models.Order) []byte
	}{
		{
			name: "unknown order and session",
			payload: func(t *testing.T, _ *models.Order) []byte {
				return sessionPayload(t, "cs_other_system", uuid.New(), "paid")
			},
		},
		{
			name: "session not bound to the order",
			payload: func(t *testing.T, order *models.Order) []byte {
				return sessionPayload(t, "cs_stale_retry", order.ID, "paid")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newTestHarness(t)
			order := h.placeMomoOrder(t)

			if err := h.stripe.HandleCheckoutSessionCompleted(context.Background(), tt.payload(t, order)); err != nil {
				t.Fatalf("expected success without action, got %v", err)
			}
			if got := h.status(t, order.ID); got != models.StatusPending {
				t.Fatalf("expected order untouched, got %s", got)
			}
		})
	}
}

func TestStripeService_MalformedPayload(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	if err := h.stripe.HandleCheckoutSessionCompleted(context.Background(), []byte(`{"object":"checkout.session"}`)); err == nil {
		t.Fatalf("expected error for session without id")
	}
	if err := h.stripe.HandleCheckoutSessionExpired(context.Background(), []byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestStripeService_PaymentIntentFailedKeepsOrderPending(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	order := h.placeMomoOrder(t)

	payload, _ := json.Marshal(map[string]any{
		"id":       "pi_test_1",
		"object":   "payment_intent",
		"metadata": map[string]string{"order_id": order.ID.String()},
		"last_payment_error": map[string]any{
			"code":    "card_declined",
			"message": "Your card was declined.",
		},
	})
	if err := h.stripe.HandlePaymentIntentFailed(context.Background(), payload); err != nil {
		t.Fatalf("HandlePaymentIntentFailed() error = %v", err)
	}
	if got := h.status(t, order.ID); got != models.StatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
}
