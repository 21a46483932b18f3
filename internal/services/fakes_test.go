package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/darjeelingmomo/momoshop/internal/catalog"
	"github.com/darjeelingmomo/momoshop/internal/db"
	"github.com/darjeelingmomo/momoshop/internal/models"
	"github.com/darjeelingmomo/momoshop/internal/stripe"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGateway struct {
	mu        sync.Mutex
	next      int
	sessions  map[string]*stripe.CheckoutSession
	created   []stripe.CheckoutSessionParams
	expired   []string
	createErr error
	getErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*stripe.CheckoutSession)}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, params stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	id := fmt.Sprintf("cs_test_%d", g.next)
	sess := &stripe.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.stripe.test/" + id,
		Status:        "open",
		PaymentStatus: "unpaid",
		OrderID:       params.OrderID.String(),
	}
	g.sessions[id] = sess
	g.created = append(g.created, params)
	copied := *sess
	return &copied, nil
}

func (g *fakeGateway) GetCheckoutSession(_ context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.getErr != nil {
		return nil, g.getErr
	}
	sess, ok := g.sessions[sessionID]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	copied := *sess
	return &copied, nil
}

func (g *fakeGateway) ExpireCheckoutSession(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess, ok := g.sessions[sessionID]
	if !ok {
		return errors.New("no such checkout session")
	}
	sess.Status = "expired"
	g.expired = append(g.expired, sessionID)
	return nil
}

func (g *fakeGateway) markPaid(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sessionID].Status = "complete"
	g.sessions[sessionID].PaymentStatus = "paid"
}

func (g *fakeGateway) expiredCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.expired)
}

type sentEmail struct {
	kind      models.NotificationKind
	orderID   uuid.UUID
	recipient string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (s *fakeSender) SendOrderEmail(_ context.Context, kind models.NotificationKind, order *models.Order, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentEmail{kind: kind, orderID: order.ID, recipient: recipient})
	return nil
}

func (s *fakeSender) count(kind models.NotificationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.sent {
		if e.kind == kind {
			n++
		}
	}
	return n
}

type testHarness struct {
	store    *db.MemoryStore
	gateway  *fakeGateway
	sender   *fakeSender
	notifier *Notifier
	orders   *OrderService
	stripe   *StripeService
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	store := db.NewMemoryStore()
	gateway := newFakeGateway()
	sender := &fakeSender{}
	notifier := NewNotifier(store, sender,
		WithNotifierLogger(discardLogger()),
		WithNotifierRetryBaseDelay(0),
		WithNotifierMaxAttempts(3),
	)
	orders := NewOrderService(store, gateway, catalog.NewPricer(nil), notifier, "NZD", discardLogger())

	return &testHarness{
		store:    store,
		gateway:  gateway,
		sender:   sender,
		notifier: notifier,
		orders:   orders,
		stripe:   NewStripeService(store, orders, discardLogger()),
	}
}

func momoOrderInput() PlaceOrderInput {
	return PlaceOrderInput{
		CustomerID:       "cust-1",
		Items:            []models.LineItem{{Name: "Momo", UnitPriceCents: 1000, Quantity: 2}},
		DeliveryFeeCents: 500,
		Address: models.DeliveryAddress{
			FirstName: "Pema",
			LastName:  "Sherpa",
			Email:     "pema@example.com",
			Street:    "1 Queen Street",
			City:      "Auckland",
			Country:   "New Zealand",
		},
	}
}

func (h *testHarness) placeMomoOrder(t *testing.T) *models.Order {
	t.Helper()

	result, err := h.orders.PlaceOrder(context.Background(), momoOrderInput())
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	order, err := h.store.GetByID(context.Background(), result.OrderID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return order
}

func (h *testHarness) status(t *testing.T, orderID uuid.UUID) models.OrderStatus {
	t.Helper()

	order, err := h.store.GetByID(context.Background(), orderID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return order.Status
}
