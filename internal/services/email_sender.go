package services

import (
	"context"
	"fmt"

	"github.com/darjeelingmomo/momoshop/internal/email"
	"github.com/darjeelingmomo/momoshop/internal/models"
)

// OrderEmailSender delivers one queued customer notification.
type OrderEmailSender interface {
	SendOrderEmail(ctx context.Context, kind models.NotificationKind, order *models.Order, recipient string) error
}

type emailRenderer interface {
	Render(ctx context.Context, templateName string, data *email.OrderInfo) (*email.Email, error)
}

// RelayEmailSender renders order templates and hands them to the mail relay.
type RelayEmailSender struct {
	renderer emailRenderer
	provider email.Provider
	shop     ShopInfo
}

func NewRelayEmailSender(renderer emailRenderer, provider email.Provider, shop ShopInfo) *RelayEmailSender {
	return &RelayEmailSender{
		renderer: renderer,
		provider: provider,
		shop:     shop,
	}
}

func (s *RelayEmailSender) SendOrderEmail(ctx context.Context, kind models.NotificationKind, order *models.Order, recipient string) error {
	if s == nil || s.renderer == nil || s.provider == nil {
		return fmt.Errorf("email sender is not configured")
	}
	if order == nil {
		return fmt.Errorf("order is required")
	}

	templateName, err := templateForKind(kind)
	if err != nil {
		return err
	}

	msg, err := s.renderer.Render(ctx, templateName, BuildOrderInfo(s.shop, order, recipient))
	if err != nil {
		return fmt.Errorf("failed to render %s email: %w", kind, err)
	}
	if msg.To == "" {
		return fmt.Errorf("order %s has no recipient", order.ID)
	}

	if err := s.provider.SendEmail(ctx, msg); err != nil {
		return fmt.Errorf("failed to send %s email: %w", kind, err)
	}
	return nil
}

func templateForKind(kind models.NotificationKind) (string, error) {
	switch kind {
	case models.NotificationOrderConfirmation:
		return email.TemplateOrderConfirmation, nil
	case models.NotificationPaymentFailed:
		return email.TemplatePaymentFailed, nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", kind)
	}
}
