package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/darjeelingmomo/momoshop/internal/logging"
	"github.com/darjeelingmomo/momoshop/internal/models"
	"github.com/darjeelingmomo/momoshop/internal/stripe"
)

type orderLookup interface {
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetByCheckoutSessionRef(ctx context.Context, ref string) (*models.Order, error)
}

type orderTransitioner interface {
	Confirm(ctx context.Context, orderID uuid.UUID) (bool, error)
	Fail(ctx context.Context, orderID uuid.UUID, reason string) (bool, error)
}

// StripeService reconciles orders from verified Stripe webhook events.
// Events for orders this service does not know are acknowledged without action.
type StripeService struct {
	orders    orderLookup
	lifecycle orderTransitioner
	logger    *slog.Logger
}

func NewStripeService(orders orderLookup, lifecycle orderTransitioner, logger *slog.Logger) *StripeService {
	return &StripeService{
		orders:    orders,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

func (s *StripeService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// HandleCheckoutSessionCompleted confirms the order once the session reports
// funds. Delayed payment methods complete unpaid and settle later through
// the async events.
func (s *StripeService) HandleCheckoutSessionCompleted(ctx context.Context, payload []byte) error {
	session, order, err := s.sessionOrder(ctx, payload)
	if err != nil || order == nil {
		return err
	}
	logger := s.loggerFromContext(ctx).With("order_id", order.ID, "session_id", session.ID)

	state := stripe.CheckoutSession{PaymentStatus: string(session.PaymentStatus)}
	if !state.Paid() {
		logger.Info("checkout completed without payment, waiting for async result", "payment_status", session.PaymentStatus)
		return nil
	}

	applied, err := s.lifecycle.Confirm(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to confirm order: %w", err)
	}
	logger.Info("checkout.session.completed handled", "applied", applied)
	return nil
}

func (s *StripeService) HandleCheckoutSessionAsyncPaymentSucceeded(ctx context.Context, payload []byte) error {
	session, order, err := s.sessionOrder(ctx, payload)
	if err != nil || order == nil {
		return err
	}

	applied, err := s.lifecycle.Confirm(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to confirm order: %w", err)
	}
	s.loggerFromContext(ctx).Info("checkout.session.async_payment_succeeded handled", "order_id", order.ID, "session_id", session.ID, "applied", applied)
	return nil
}

func (s *StripeService) HandleCheckoutSessionAsyncPaymentFailed(ctx context.Context, payload []byte) error {
	return s.failFromSession(ctx, payload, ReasonAsyncPaymentFailed)
}

func (s *StripeService) HandleCheckoutSessionExpired(ctx context.Context, payload []byte) error {
	return s.failFromSession(ctx, payload, ReasonCheckoutExpired)
}

func (s *StripeService) failFromSession(ctx context.Context, payload []byte, reason string) error {
	session, order, err := s.sessionOrder(ctx, payload)
	if err != nil || order == nil {
		return err
	}

	applied, err := s.lifecycle.Fail(ctx, order.ID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark order as payment_failed: %w", err)
	}
	s.loggerFromContext(ctx).Info("checkout session failure handled", "order_id", order.ID, "session_id", session.ID, "reason", reason, "applied", applied)
	return nil
}

// HandlePaymentIntentFailed records a declined attempt. The customer can
// still retry inside the same checkout session, so the order stays pending
// until the session completes or expires.
func (s *StripeService) HandlePaymentIntentFailed(ctx context.Context, payload []byte) error {
	logger := s.loggerFromContext(ctx)

	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(payload, &intent); err != nil {
		return fmt.Errorf("invalid event object: %w", err)
	}
	if intent.ID == "" {
		return fmt.Errorf("missing payment intent ID")
	}

	code, message := "", ""
	if intent.LastPaymentError != nil {
		code = string(intent.LastPaymentError.Code)
		message = intent.LastPaymentError.Msg
	}
	logger.Info("payment attempt declined", "intent_id", intent.ID, "order_id", intent.Metadata[stripe.MetadataOrderID], "code", code, "message", message)
	return nil
}

// sessionOrder decodes the session and finds its order, first by the order_id
// metadata and then by the bound session reference. A nil order with a nil
// error means the event is not ours.
func (s *StripeService) sessionOrder(ctx context.Context, payload []byte) (*stripeapi.CheckoutSession, *models.Order, error) {
	logger := s.loggerFromContext(ctx)

	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, nil, fmt.Errorf("invalid event object: %w", err)
	}
	if session.ID == "" {
		return nil, nil, fmt.Errorf("missing session ID")
	}

	order, err := s.lookupOrder(ctx, &session)
	if errors.Is(err, models.ErrOrderNotFound) {
		logger.Info("no order for checkout session, ignoring", "session_id", session.ID)
		return &session, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get order: %w", err)
	}

	if order.CheckoutSessionRef != "" && order.CheckoutSessionRef != session.ID {
		logger.Warn("checkout session is not bound to order, ignoring", "session_id", session.ID, "order_id", order.ID, "bound_session_id", order.CheckoutSessionRef)
		return &session, nil, nil
	}
	return &session, order, nil
}

func (s *StripeService) lookupOrder(ctx context.Context, session *stripeapi.CheckoutSession) (*models.Order, error) {
	if raw := strings.TrimSpace(session.Metadata[stripe.MetadataOrderID]); raw != "" {
		orderID, err := uuid.Parse(raw)
		if err == nil {
			order, err := s.orders.GetByID(ctx, orderID)
			if !errors.Is(err, models.ErrOrderNotFound) {
				return order, err
			}
		} else {
			s.loggerFromContext(ctx).Warn("invalid order_id in session metadata", "session_id", session.ID, "value", raw)
		}
	}
	return s.orders.GetByCheckoutSessionRef(ctx, session.ID)
}
