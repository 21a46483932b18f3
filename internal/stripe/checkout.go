// Package stripe wraps the Stripe checkout and webhook APIs used for order payment.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

const (
	MetadataOrderID = "order_id"

	deliveryLineItemName = "Delivery Charges"

	minSessionTTL = 30 * time.Minute
	maxSessionTTL = 24 * time.Hour
)

// Client creates and inspects hosted checkout sessions.
type Client struct {
	client      *stripe.Client
	frontendURL string
	currency    string
	sessionTTL  time.Duration
}

type Config struct {
	SecretKey   string
	FrontendURL string
	Currency    string
	SessionTTL  time.Duration
	HTTPClient  *http.Client
}

func NewClient(cfg Config) *Client {
	var opts []stripe.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, stripe.WithBackends(stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			HTTPClient: cfg.HTTPClient,
		})))
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "nzd"
	}

	return &Client{
		client:      stripe.NewClient(cfg.SecretKey, opts...),
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		currency:    currency,
		sessionTTL:  clampSessionTTL(cfg.SessionTTL),
	}
}

// CheckoutSessionParams is the server-side snapshot a session is built from.
type CheckoutSessionParams struct {
	OrderID          uuid.UUID
	CustomerEmail    string
	LineItems        []models.LineItem
	DeliveryFeeCents int64
}

// CheckoutSession is the subset of a provider session the order flow relies on.
type CheckoutSession struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	OrderID       string
	ExpiresAt     time.Time
}

// Paid reports whether funds were captured or nothing was owed.
func (s *CheckoutSession) Paid() bool {
	switch stripe.CheckoutSessionPaymentStatus(s.PaymentStatus) {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return true
	default:
		return false
	}
}

func (s *CheckoutSession) Expired() bool {
	return stripe.CheckoutSessionStatus(s.Status) == stripe.CheckoutSessionStatusExpired
}

// CreateCheckoutSession creates a hosted payment page whose line items mirror
// the order and whose metadata carries the order id.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	sessionParams, err := c.buildSessionParams(params, time.Now())
	if err != nil {
		return nil, err
	}

	sess, err := c.client.V1CheckoutSessions.Create(ctx, sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return toCheckoutSession(sess), nil
}

// GetCheckoutSession fetches the current state of a session.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}

	sess, err := c.client.V1CheckoutSessions.Retrieve(ctx, sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	return toCheckoutSession(sess), nil
}

// ExpireCheckoutSession closes an open session so it can no longer be paid.
func (c *Client) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	if ctx == nil {
		return fmt.Errorf("context is required")
	}

	if _, err := c.client.V1CheckoutSessions.Expire(ctx, sessionID, nil); err != nil {
		return fmt.Errorf("failed to expire checkout session: %w", err)
	}
	return nil
}

func (c *Client) buildSessionParams(params CheckoutSessionParams, now time.Time) (*stripe.CheckoutSessionCreateParams, error) {
	if params.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if len(params.LineItems) == 0 {
		return nil, fmt.Errorf("at least one line item is required")
	}

	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(params.LineItems)+1)
	for _, item := range params.LineItems {
		lineItems = append(lineItems, c.lineItem(item.Name, item.UnitPriceCents, item.Quantity))
	}
	if params.DeliveryFeeCents > 0 {
		lineItems = append(lineItems, c.lineItem(deliveryLineItemName, params.DeliveryFeeCents, 1))
	}

	orderID := params.OrderID.String()
	metadata := map[string]string{MetadataOrderID: orderID}

	sessionParams := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(c.verifyURL(true, orderID)),
		CancelURL:         stripe.String(c.verifyURL(false, orderID)),
		ClientReferenceID: stripe.String(orderID),
		ExpiresAt:         stripe.Int64(now.Add(c.sessionTTL).Unix()),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: map[string]string{MetadataOrderID: orderID},
		},
	}
	if email := strings.TrimSpace(params.CustomerEmail); email != "" {
		sessionParams.CustomerEmail = stripe.String(email)
	}
	return sessionParams, nil
}

func (c *Client) lineItem(name string, unitAmount, quantity int64) *stripe.CheckoutSessionCreateLineItemParams {
	return &stripe.CheckoutSessionCreateLineItemParams{
		PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
			Currency: stripe.String(c.currency),
			ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
			UnitAmount: stripe.Int64(unitAmount),
		},
		Quantity: stripe.Int64(quantity),
	}
}

func (c *Client) verifyURL(success bool, orderID string) string {
	query := url.Values{}
	query.Set("success", fmt.Sprintf("%t", success))
	query.Set("orderId", orderID)
	return c.frontendURL + "/verify?" + query.Encode()
}

func toCheckoutSession(sess *stripe.CheckoutSession) *CheckoutSession {
	if sess == nil {
		return nil
	}
	out := &CheckoutSession{
		ID:            sess.ID,
		URL:           sess.URL,
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		OrderID:       sess.Metadata[MetadataOrderID],
	}
	if out.OrderID == "" {
		out.OrderID = sess.ClientReferenceID
	}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return out
}

// Stripe accepts expires_at between 30 minutes and 24 hours from creation.
func clampSessionTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return minSessionTTL
	case ttl < minSessionTTL:
		return minSessionTTL
	case ttl > maxSessionTTL:
		return maxSessionTTL
	default:
		return ttl
	}
}
