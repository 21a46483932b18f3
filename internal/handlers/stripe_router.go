package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/darjeelingmomo/momoshop/internal/logging"
	"github.com/darjeelingmomo/momoshop/internal/observability"
	"github.com/darjeelingmomo/momoshop/internal/services"
)

// StripeEventRouter dispatches verified Stripe events by type. Unknown types
// are acknowledged so the provider stops retrying them.
type StripeEventRouter struct {
	service *services.StripeService
	logger  *slog.Logger
}

func NewStripeEventRouter(service *services.StripeService, logger *slog.Logger) *StripeEventRouter {
	return &StripeEventRouter{
		service: service,
		logger:  logger,
	}
}

func (r *StripeEventRouter) Handle(ctx context.Context, event *stripeapi.Event) error {
	span := sentry.StartSpan(
		ctx,
		"handler.stripe_router.handle",
		sentry.WithOpName("handler.stripe_router"),
		sentry.WithDescription("StripeEventRouter.Handle"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "stripe"))
	meter.Count("webhook.router.received", 1)
	recordFailed := func(reason string) {
		meter.Count("webhook.router.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	if event == nil {
		recordFailed("missing_event")
		return fmt.Errorf("missing stripe event")
	}
	if event.Data == nil {
		recordFailed("missing_event_data")
		return fmt.Errorf("missing stripe event data")
	}
	meter.SetAttributes(attribute.String("webhook.event_type", string(event.Type)))

	logger := logging.FromContext(ctx, r.logger)
	payload := event.Data.Raw

	var handle func(context.Context, []byte) error
	switch event.Type {
	case "checkout.session.completed":
		handle = r.service.HandleCheckoutSessionCompleted
	case "checkout.session.async_payment_succeeded":
		handle = r.service.HandleCheckoutSessionAsyncPaymentSucceeded
	case "checkout.session.async_payment_failed":
		handle = r.service.HandleCheckoutSessionAsyncPaymentFailed
	case "checkout.session.expired":
		handle = r.service.HandleCheckoutSessionExpired
	case "payment_intent.payment_failed":
		handle = r.service.HandlePaymentIntentFailed
	default:
		logger.Info("unhandled Stripe event type", "type", event.Type)
		meter.Count("webhook.router.unhandled", 1)
		span.Status = sentry.SpanStatusOK
		return nil
	}

	if err := handle(ctx, payload); err != nil {
		recordFailed(strings.ReplaceAll(string(event.Type), ".", "_") + "_failed")
		span.Status = sentry.SpanStatusInternalError
		return err
	}
	meter.Count("webhook.router.processed", 1)
	span.Status = sentry.SpanStatusOK
	return nil
}
