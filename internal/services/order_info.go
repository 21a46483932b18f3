package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/darjeelingmomo/momoshop/internal/email"
	"github.com/darjeelingmomo/momoshop/internal/models"
)

// ShopInfo is the storefront identity printed in customer emails.
type ShopInfo struct {
	Name         string
	URL          string
	DeliveryTime string
}

const defaultDeliveryTime = "within 2 hours"

var failureMessages = map[string]string{
	ReasonCheckoutExpired:    "Your checkout session expired before the payment was completed.",
	ReasonAsyncPaymentFailed: "Your bank did not approve the payment.",
	ReasonPaymentCancelled:   "The payment was cancelled before it was completed.",
	ReasonPendingTimeout:     "We did not receive a payment in time.",
}

// BuildOrderInfo builds a consistent OrderInfo payload for email templates.
func BuildOrderInfo(shop ShopInfo, order *models.Order, recipient string) *email.OrderInfo {
	if order == nil {
		return &email.OrderInfo{ShopName: shop.Name, ShopURL: shop.URL}
	}

	deliveryTime := strings.TrimSpace(shop.DeliveryTime)
	if deliveryTime == "" {
		deliveryTime = defaultDeliveryTime
	}

	customerEmail := strings.TrimSpace(recipient)
	if customerEmail == "" {
		customerEmail = strings.TrimSpace(order.DeliveryAddress.Email)
	}
	customerName := order.DeliveryAddress.FullName()
	if customerName == "" {
		customerName = "there"
	}

	items := make([]email.OrderItem, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		items = append(items, email.OrderItem{
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  formatPrice(item.UnitPriceCents),
			TotalPrice: formatPrice(item.AmountCents()),
		})
	}

	orderDate := order.CreatedAt
	if orderDate.IsZero() {
		orderDate = time.Now()
	}

	info := &email.OrderInfo{
		OrderNumber:     order.ShortNumber(),
		CustomerName:    customerName,
		CustomerEmail:   customerEmail,
		ShopName:        shop.Name,
		ShopURL:         shop.URL,
		OrderDate:       orderDate,
		Items:           items,
		DeliveryAddress: strings.Join(order.DeliveryAddress.Lines(), "\n"),
		DeliveryCharge:  formatPrice(order.DeliveryFeeCents),
		Subtotal:        formatPrice(order.SubtotalCents()),
		Total:           formatPrice(order.TotalAmountCents),
		DeliveryTime:    deliveryTime,
	}

	if order.FailureReason != "" {
		info.ErrorCode = order.FailureReason
		info.ErrorMessage = failureMessages[order.FailureReason]
		if info.ErrorMessage == "" {
			info.ErrorMessage = "The payment could not be completed."
		}
	}
	return info
}

func formatPrice(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
