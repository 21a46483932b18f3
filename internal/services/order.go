package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/darjeelingmomo/momoshop/internal/db"
	"github.com/darjeelingmomo/momoshop/internal/logging"
	"github.com/darjeelingmomo/momoshop/internal/models"
	"github.com/darjeelingmomo/momoshop/internal/observability"
	"github.com/darjeelingmomo/momoshop/internal/stripe"
)

// ErrGateway marks a failure talking to the payment provider. The order it
// concerns is left untouched so the caller can retry.
var ErrGateway = errors.New("payment gateway error")

// Failure reasons recorded on orders and surfaced as email error codes.
const (
	ReasonCheckoutExpired    = "checkout_session_expired"
	ReasonAsyncPaymentFailed = "async_payment_failed"
	ReasonPaymentCancelled   = "payment_cancelled"
	ReasonPendingTimeout     = "pending_timeout"
)

var orderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "momoshop_order_transitions_total",
	Help: "Guarded order status transitions grouped by target status and result.",
}, []string{"to", "result"})

// OrderStore is the persistence the order lifecycle relies on. Transition
// must be a single atomic conditional update.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByCheckoutSessionRef(ctx context.Context, ref string) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Order, error)
	List(ctx context.Context, filter db.ListFilter) ([]*models.Order, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error)
	BindCheckoutSession(ctx context.Context, orderID uuid.UUID, ref string) error
	Transition(ctx context.Context, orderID uuid.UUID, change models.StatusChange) (bool, error)
	OverrideStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, reason string) (*models.Order, error)
}

// PaymentGateway creates and inspects hosted checkout sessions.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, params stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
}

type orderPricer interface {
	PriceItems(items []models.LineItem) ([]models.LineItem, error)
	DeliveryFee(submitted int64) (int64, error)
}

// NotificationWaker is poked after a transition commits so queued emails go
// out without waiting for the next poll.
type NotificationWaker interface {
	Wake()
}

type OrderService struct {
	store    OrderStore
	gateway  PaymentGateway
	pricer   orderPricer
	waker    NotificationWaker
	currency string
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrderService(store OrderStore, gateway PaymentGateway, pricer orderPricer, waker NotificationWaker, currency string, logger *slog.Logger) *OrderService {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "NZD"
	}
	return &OrderService{
		store:    store,
		gateway:  gateway,
		pricer:   pricer,
		waker:    waker,
		currency: currency,
		validate: validator.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type PlaceOrderInput struct {
	CustomerID       string            `validate:"required"`
	Items            []models.LineItem `validate:"required,min=1,max=50"`
	DeliveryFeeCents int64             `validate:"gte=0"`
	Address          models.DeliveryAddress
	// ClaimedTotalCents is the total the client displayed. Zero skips the check.
	ClaimedTotalCents int64 `validate:"gte=0"`
}

type PlaceOrderResult struct {
	OrderID          uuid.UUID
	CheckoutURL      string
	TotalAmountCents int64
}

// PlaceOrder validates and prices the cart, persists the order as pending and
// opens a checkout session bound to it.
func (s *OrderService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.place",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("PlaceOrder"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("order.place.received", 1)
	recordFailure := func(reason string) {
		meter.Count("order.place.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	if err := s.validate.Struct(input); err != nil {
		recordFailure("invalid_input")
		return nil, toValidationError(err)
	}

	items, err := s.pricer.PriceItems(input.Items)
	if err != nil {
		recordFailure("invalid_items")
		return nil, err
	}
	fee, err := s.pricer.DeliveryFee(input.DeliveryFeeCents)
	if err != nil {
		recordFailure("invalid_delivery_fee")
		return nil, err
	}

	order := &models.Order{
		ID:               uuid.New(),
		CustomerID:       input.CustomerID,
		LineItems:        items,
		DeliveryFeeCents: fee,
		TotalAmountCents: models.ComputeTotal(items, fee),
		Currency:         s.currency,
		Status:           models.StatusPending,
		DeliveryAddress:  input.Address,
	}
	if input.ClaimedTotalCents != 0 && input.ClaimedTotalCents != order.TotalAmountCents {
		recordFailure("total_mismatch")
		return nil, &models.ValidationError{Field: "amount", Message: "does not match the current cart total, refresh and try again"}
	}
	if err := order.CheckTotal(); err != nil {
		recordFailure("total_mismatch")
		return nil, err
	}

	if err := s.store.Create(ctx, order); err != nil {
		recordFailure("store_create_failed")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	logger = logger.With("order_id", order.ID)

	sess, err := s.gateway.CreateCheckoutSession(ctx, stripe.CheckoutSessionParams{
		OrderID:          order.ID,
		CustomerEmail:    order.DeliveryAddress.Email,
		LineItems:        order.LineItems,
		DeliveryFeeCents: order.DeliveryFeeCents,
	})
	if err != nil {
		recordFailure("gateway_failed")
		logger.Error("failed to create checkout session", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	if err := s.store.BindCheckoutSession(ctx, order.ID, sess.ID); err != nil {
		recordFailure("bind_session_failed")
		// Unbound sessions cannot be correlated by reference; close it so it is never paid.
		if expireErr := s.gateway.ExpireCheckoutSession(ctx, sess.ID); expireErr != nil {
			logger.Warn("failed to expire unbound checkout session", "error", expireErr, "session_id", sess.ID)
		}
		return nil, fmt.Errorf("failed to bind checkout session: %w", err)
	}

	meter.Count("order.place.succeeded", 1)
	span.Status = sentry.SpanStatusOK
	logger.Info("order placed", "session_id", sess.ID, "total_cents", order.TotalAmountCents, "items", len(order.LineItems))

	return &PlaceOrderResult{
		OrderID:          order.ID,
		CheckoutURL:      sess.URL,
		TotalAmountCents: order.TotalAmountCents,
	}, nil
}

// Confirm moves a pending order to paid and queues the confirmation email.
// It reports false without error when the order already left pending.
func (s *OrderService) Confirm(ctx context.Context, orderID uuid.UUID) (bool, error) {
	return s.transition(ctx, orderID, models.StatusPaid, "", models.NotificationOrderConfirmation)
}

// Fail moves a pending order to payment_failed and queues the failure email.
func (s *OrderService) Fail(ctx context.Context, orderID uuid.UUID, reason string) (bool, error) {
	return s.transition(ctx, orderID, models.StatusPaymentFailed, reason, models.NotificationPaymentFailed)
}

// Cancel closes an abandoned pending order. No email is sent.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (bool, error) {
	return s.transition(ctx, orderID, models.StatusCancelled, reason, "")
}

func (s *OrderService) transition(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, reason string, kind models.NotificationKind) (bool, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.transition",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("transition to "+string(to)),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx).With("order_id", orderID, "to", to)

	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		if !errors.Is(err, models.ErrOrderNotFound) {
			orderTransitions.WithLabelValues(string(to), "error").Inc()
		}
		return false, err
	}
	if order.Status != models.StatusPending {
		orderTransitions.WithLabelValues(string(to), "ignored").Inc()
		logger.Info("ignoring transition for settled order", "status", order.Status)
		span.Status = sentry.SpanStatusOK
		return false, nil
	}

	change := models.StatusChange{From: models.StatusPending, To: to, Reason: reason}
	if kind != "" {
		if recipient := strings.TrimSpace(order.DeliveryAddress.Email); recipient != "" {
			change.Notification = models.NewNotification(order.ID, kind, recipient, s.now())
		} else {
			logger.Warn("order has no email address, skipping notification", "kind", kind)
		}
	}

	applied, err := s.store.Transition(ctx, orderID, change)
	if err != nil {
		orderTransitions.WithLabelValues(string(to), "error").Inc()
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	if !applied {
		orderTransitions.WithLabelValues(string(to), "ignored").Inc()
		logger.Info("order settled concurrently, transition ignored")
		span.Status = sentry.SpanStatusOK
		return false, nil
	}

	orderTransitions.WithLabelValues(string(to), "applied").Inc()
	observability.MeterFromContext(ctx).Count("order.transition.applied", 1, sentry.WithAttributes(attribute.String("to", string(to))))
	logger.Info("order status changed", "reason", reason)
	if change.Notification != nil && s.waker != nil {
		s.waker.Wake()
	}
	span.Status = sentry.SpanStatusOK
	return true, nil
}

type VerifyResult struct {
	Order   *models.Order
	Applied bool
}

// Verify reconciles an order when the customer's browser returns from
// checkout. The provider session is the source of truth: a paid session
// confirms the order even when the redirect reported a cancel, and an unpaid
// one is only failed after the session has been closed.
func (s *OrderService) Verify(ctx context.Context, orderID uuid.UUID, success bool) (*VerifyResult, error) {
	logger := s.loggerFromContext(ctx).With("order_id", orderID, "success", success)

	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusPending {
		return &VerifyResult{Order: order}, nil
	}
	if order.CheckoutSessionRef == "" {
		if success {
			return &VerifyResult{Order: order}, nil
		}
		applied, err := s.Fail(ctx, orderID, ReasonPaymentCancelled)
		return s.verifyResult(ctx, orderID, applied, err)
	}

	sess, err := s.gateway.GetCheckoutSession(ctx, order.CheckoutSessionRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	if sess.Paid() {
		applied, err := s.Confirm(ctx, orderID)
		return s.verifyResult(ctx, orderID, applied, err)
	}
	if success {
		logger.Info("checkout returned before payment settled", "payment_status", sess.PaymentStatus)
		return &VerifyResult{Order: order}, nil
	}

	if !sess.Expired() {
		if err := s.gateway.ExpireCheckoutSession(ctx, sess.ID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGateway, err)
		}
	}
	applied, err := s.Fail(ctx, orderID, ReasonPaymentCancelled)
	return s.verifyResult(ctx, orderID, applied, err)
}

func (s *OrderService) verifyResult(ctx context.Context, orderID uuid.UUID, applied bool, err error) (*VerifyResult, error) {
	if err != nil {
		return nil, err
	}
	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Order: order, Applied: applied}, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.store.GetByID(ctx, orderID)
}

const customerHistoryLimit = 100

func (s *OrderService) ListCustomerOrders(ctx context.Context, customerID string) ([]*models.Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, &models.ValidationError{Field: "customer_id", Message: "is required"}
	}
	return s.store.ListByCustomer(ctx, customerID, customerHistoryLimit)
}

func (s *OrderService) ListOrders(ctx context.Context, filter db.ListFilter) ([]*models.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	if filter.Offset < 0 {
		return nil, &models.ValidationError{Field: "offset", Message: "must be zero or positive"}
	}
	return s.store.List(ctx, filter)
}

// OverrideStatus is the operator escape hatch. It writes the status directly,
// outside the guarded state machine, and never queues an email.
func (s *OrderService) OverrideStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, reason, actor string) (*models.Order, error) {
	if !status.Valid() {
		return nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	order, err := s.store.OverrideStatus(ctx, orderID, status, reason)
	if err != nil {
		return nil, err
	}
	orderTransitions.WithLabelValues(string(status), "override").Inc()
	s.loggerFromContext(ctx).Warn("order status overridden", "order_id", orderID, "status", status, "reason", reason, "actor", actor)
	return order, nil
}

func toValidationError(err error) error {
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) && len(invalid) > 0 {
		first := invalid[0]
		field := first.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		return &models.ValidationError{
			Field:   strings.ToLower(field),
			Message: fmt.Sprintf("failed %s validation", first.Tag()),
		}
	}
	return &models.ValidationError{Field: "request", Message: err.Error()}
}
