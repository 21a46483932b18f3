package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	StatusPending       OrderStatus = "pending"
	StatusPaid          OrderStatus = "paid"
	StatusPaymentFailed OrderStatus = "payment_failed"
	StatusCancelled     OrderStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing. Nothing transitions out of
// paid, payment_failed or cancelled.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusPaymentFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusPaymentFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

type LineItem struct {
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
}

func (li LineItem) AmountCents() int64 {
	return li.UnitPriceCents * li.Quantity
}

type DeliveryAddress struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Street    string `json:"street" validate:"required,max=200"`
	City      string `json:"city" validate:"required,max=100"`
	State     string `json:"state" validate:"max=100"`
	Zipcode   string `json:"zipcode" validate:"max=20"`
	Country   string `json:"country" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"max=40"`
}

// Lines formats the address for emails and admin views.
func (a DeliveryAddress) Lines() []string {
	lines := make([]string, 0, 4)
	if name := a.FullName(); name != "" {
		lines = append(lines, name)
	}
	if street := strings.TrimSpace(a.Street); street != "" {
		lines = append(lines, street)
	}
	cityLine := strings.Trim(strings.TrimSpace(a.City)+", "+strings.TrimSpace(strings.TrimSpace(a.State)+" "+strings.TrimSpace(a.Zipcode)), ", ")
	if cityLine != "" {
		lines = append(lines, cityLine)
	}
	if country := strings.TrimSpace(a.Country); country != "" {
		lines = append(lines, country)
	}
	return lines
}

func (a DeliveryAddress) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

type Order struct {
	ID                 uuid.UUID       `json:"id"`
	CustomerID         string          `json:"customer_id"`
	LineItems          []LineItem      `json:"line_items"`
	DeliveryFeeCents   int64           `json:"delivery_fee_cents"`
	TotalAmountCents   int64           `json:"total_amount_cents"`
	Currency           string          `json:"currency"`
	Status             OrderStatus     `json:"status"`
	CheckoutSessionRef string          `json:"checkout_session_ref,omitempty"`
	DeliveryAddress    DeliveryAddress `json:"delivery_address"`
	FailureReason      string          `json:"failure_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
}

// MaxAmountCents is the largest amount a checkout session accepts, for a
// single unit price and for an order total.
const MaxAmountCents int64 = 99_999_999

// ComputeTotal returns the sum of price*quantity over items plus the delivery fee.
func ComputeTotal(items []LineItem, deliveryFeeCents int64) int64 {
	total := deliveryFeeCents
	for _, item := range items {
		total += item.AmountCents()
	}
	return total
}

// checkedTotal is ComputeTotal with overflow detection. Negative inputs are
// reported as overflow.
func checkedTotal(items []LineItem, deliveryFeeCents int64) (int64, bool) {
	if deliveryFeeCents < 0 {
		return 0, false
	}
	total := deliveryFeeCents
	for _, item := range items {
		if item.UnitPriceCents < 0 || item.Quantity < 0 {
			return 0, false
		}
		if item.Quantity != 0 && item.UnitPriceCents > math.MaxInt64/item.Quantity {
			return 0, false
		}
		amount := item.AmountCents()
		if total > math.MaxInt64-amount {
			return 0, false
		}
		total += amount
	}
	return total, true
}

func (o *Order) SubtotalCents() int64 {
	return ComputeTotal(o.LineItems, 0)
}

// CheckTotal verifies the stored total against the line items and delivery fee.
func (o *Order) CheckTotal() error {
	want, ok := checkedTotal(o.LineItems, o.DeliveryFeeCents)
	if !ok || want > MaxAmountCents {
		return &ValidationError{Field: "total_amount", Message: fmt.Sprintf("must not exceed %d cents", MaxAmountCents)}
	}
	if o.TotalAmountCents != want {
		return &ValidationError{Field: "total_amount", Message: "does not match line items and delivery fee"}
	}
	return nil
}

// ShortNumber is the customer-facing order number: the last five characters of
// the id, upper-cased.
func (o *Order) ShortNumber() string {
	id := strings.ReplaceAll(o.ID.String(), "-", "")
	if len(id) > 5 {
		id = id[len(id)-5:]
	}
	return strings.ToUpper(id)
}

// CanTransition reports whether the guarded state machine allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	return from == StatusPending && to.IsTerminal()
}

// StatusChange describes a guarded transition requested against the store.
type StatusChange struct {
	From         OrderStatus
	To           OrderStatus
	Reason       string
	Notification *Notification
}
