package catalog

// Package catalog provides price calculation functionality.

import (
	"fmt"
	"strings"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

const maxQuantityPerLine = 100

// Pricer turns a submitted cart into server-side priced line items. With a
// menu loaded, unit prices come from the menu and the submitted price is only
// used to detect a stale cart. Without a menu, submitted prices are trusted
// but must be positive.
type Pricer struct {
	menu  *Menu
	index map[string]MenuItem
}

func NewPricer(menu *Menu) *Pricer {
	p := &Pricer{menu: menu}
	if menu != nil {
		p.index = make(map[string]MenuItem, len(menu.Items))
		for _, item := range menu.Items {
			p.index[itemKey(item.Name)] = item
		}
	}
	return p
}

func (p *Pricer) HasMenu() bool {
	return p != nil && p.menu != nil
}

// Menu returns the loaded menu, or nil when prices come from the cart.
func (p *Pricer) Menu() *Menu {
	if p == nil {
		return nil
	}
	return p.menu
}

// PriceItems validates quantities and resolves unit prices.
func (p *Pricer) PriceItems(items []models.LineItem) ([]models.LineItem, error) {
	if len(items) == 0 {
		return nil, &models.ValidationError{Field: "items", Message: "cart is empty"}
	}

	priced := make([]models.LineItem, 0, len(items))
	for i, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, &models.ValidationError{Field: fmt.Sprintf("items[%d].name", i), Message: "is required"}
		}
		if item.Quantity <= 0 || item.Quantity > maxQuantityPerLine {
			return nil, &models.ValidationError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: fmt.Sprintf("must be between 1 and %d", maxQuantityPerLine),
			}
		}

		unitPrice := item.UnitPriceCents
		if p.HasMenu() {
			menuItem, ok := p.index[itemKey(name)]
			if !ok {
				return nil, &models.ValidationError{Field: fmt.Sprintf("items[%d].name", i), Message: fmt.Sprintf("%s is not on the menu", name)}
			}
			if !menuItem.IsAvailable() {
				return nil, &models.ValidationError{Field: fmt.Sprintf("items[%d].name", i), Message: fmt.Sprintf("%s is not available", name)}
			}
			if item.UnitPriceCents > 0 && item.UnitPriceCents != menuItem.UnitPriceCents {
				return nil, &models.ValidationError{Field: fmt.Sprintf("items[%d].price", i), Message: "price has changed, refresh the cart"}
			}
			name = menuItem.Name
			unitPrice = menuItem.UnitPriceCents
		}
		if unitPrice <= 0 {
			return nil, &models.ValidationError{Field: fmt.Sprintf("items[%d].price", i), Message: "must be positive"}
		}
		if unitPrice > models.MaxAmountCents {
			return nil, &models.ValidationError{Field: fmt.Sprintf("items[%d].price", i), Message: fmt.Sprintf("must not exceed %d cents", models.MaxAmountCents)}
		}

		priced = append(priced, models.LineItem{
			Name:           name,
			UnitPriceCents: unitPrice,
			Quantity:       item.Quantity,
		})
	}
	return priced, nil
}

// DeliveryFee resolves the delivery fee. A menu fee overrides the submitted one,
// and a submitted fee that disagrees with the menu is rejected.
func (p *Pricer) DeliveryFee(submitted int64) (int64, error) {
	if submitted < 0 {
		return 0, &models.ValidationError{Field: "delivery_fee", Message: "must be zero or positive"}
	}
	if submitted > models.MaxAmountCents {
		return 0, &models.ValidationError{Field: "delivery_fee", Message: fmt.Sprintf("must not exceed %d cents", models.MaxAmountCents)}
	}
	if !p.HasMenu() {
		return submitted, nil
	}
	fee := p.menu.Shop.DeliveryFeeCents
	if submitted != 0 && submitted != fee {
		return 0, &models.ValidationError{Field: "delivery_fee", Message: "does not match the current delivery charge"}
	}
	return fee, nil
}
