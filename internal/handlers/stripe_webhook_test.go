package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripeapi "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/darjeelingmomo/momoshop/internal/cache"
	"github.com/darjeelingmomo/momoshop/internal/models"
)

func signedWebhookRequest(t *testing.T, secret, eventID, eventType string, object map[string]any) *http.Request {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"api_version": stripeapi.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func checkoutObject(sessionID, orderID, paymentStatus string) map[string]any {
	return map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"status":         "complete",
		"payment_status": paymentStatus,
		"metadata":       map[string]string{"order_id": orderID},
	}
}

func TestStripeWebhook_RejectsBadSignatureWithoutMutation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		request func(t *testing.T, object map[string]any) *http.Request
	}{
		{
			name: "signed with another secret",
			request: func(t *testing.T, object map[string]any) *http.Request {
				return signedWebhookRequest(t, "whsec_someone_else", "evt_forged", "checkout.session.completed", object)
			},
		},
		{
			name: "signature header missing",
			request: func(t *testing.T, object map[string]any) *http.Request {
				req := signedWebhookRequest(t, testWebhookSecret, "evt_forged", "checkout.session.completed", object)
				req.Header.Del("Stripe-Signature")
				return req
			},
		},
		{
			name: "payload altered after signing",
			request: func(t *testing.T, object map[string]any) *http.Request {
				signed := signedWebhookRequest(t, testWebhookSecret, "evt_forged", "checkout.session.expired", object)
				forged := signedWebhookRequest(t, "whsec_ignored", "evt_forged", "checkout.session.completed", object)
				forged.Header.Set("Stripe-Signature", signed.Header.Get("Stripe-Signature"))
				return forged
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			placed := env.placeOrder(t, "cust-1")
			order, err := env.store.GetByID(context.Background(), placed.OrderID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if order.CheckoutSessionRef == "" {
				t.Fatalf("expected a bound checkout session")
			}

			rec := httptest.NewRecorder()
			env.handlers.StripeWebhook(rec, tt.request(t, checkoutObject(order.CheckoutSessionRef, order.ID.String(), "paid")))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
			}

			order, err = env.store.GetByID(context.Background(), placed.OrderID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if order.Status != models.StatusPending {
				t.Fatalf("expected order to stay pending, got %s", order.Status)
			}
			notifications, err := env.store.ListNotifications(context.Background(), order.ID)
			if err != nil {
				t.Fatalf("ListNotifications() error = %v", err)
			}
			if len(notifications) != 0 {
				t.Fatalf("expected no notifications, got %d", len(notifications))
			}
			if _, err := env.cache.Get(context.Background(), cache.WebhookKey("stripe", "evt_forged")); !errors.Is(err, cache.ErrNotFound) {
				t.Fatalf("expected event id not recorded, got err=%v", err)
			}
		})
	}
}

func TestStripeWebhook_ExpiredFailsOrderOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	placed := env.placeOrder(t, "cust-1")
	order, err := env.store.GetByID(context.Background(), placed.OrderID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	object := checkoutObject(order.CheckoutSessionRef, order.ID.String(), "unpaid")

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		env.handlers.StripeWebhook(rec, signedWebhookRequest(t, testWebhookSecret, "evt_expired", "checkout.session.expired", object))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected status %d, got %d", i, http.StatusOK, rec.Code)
		}
	}

	order, err = env.store.GetByID(context.Background(), placed.OrderID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if order.Status != models.StatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", order.Status)
	}

	notifications, err := env.store.ListNotifications(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("expected one queued notification, got %d", len(notifications))
	}
}

func TestStripeWebhook_CompletedConfirmsOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	placed := env.placeOrder(t, "cust-1")
	order, _ := env.store.GetByID(context.Background(), placed.OrderID)

	rec := httptest.NewRecorder()
	env.handlers.StripeWebhook(rec, signedWebhookRequest(t, testWebhookSecret, "evt_paid", "checkout.session.completed",
		checkoutObject(order.CheckoutSessionRef, order.ID.String(), "paid")))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	order, _ = env.store.GetByID(context.Background(), placed.OrderID)
	if order.Status != models.StatusPaid {
		t.Fatalf("expected paid, got %s", order.Status)
	}
}

func TestStripeWebhook_AcknowledgesWithoutAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		eventType string
		object    map[string]any
	}{
		{
			name:      "unknown event type",
			eventType: "customer.created",
			object:    map[string]any{"id": "cus_1", "object": "customer"},
		},
		{
			name:      "unknown order",
			eventType: "checkout.session.completed",
			object:    checkoutObject("cs_unknown", "3f2504e0-4f89-11d3-9a0c-0305e82c3301", "paid"),
		},
		{
			name:      "no order metadata",
			eventType: "checkout.session.completed",
			object:    checkoutObject("cs_unknown", "", "paid"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			rec := httptest.NewRecorder()
			env.handlers.StripeWebhook(rec, signedWebhookRequest(t, testWebhookSecret, "evt_"+tt.name, tt.eventType, tt.object))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, rec.Code, rec.Body.String())
			}
		})
	}
}
