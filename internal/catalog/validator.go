package catalog

// Package catalog provides menu validation.

import (
	"fmt"
	"regexp"
	"strings"
)

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

var currencyCodeRegex = regexp.MustCompile(`^[a-zA-Z]{3}$`)

func (v *Validator) Validate(menu *Menu) error {
	if menu == nil {
		return fmt.Errorf("menu is required")
	}
	if err := v.validateShop(&menu.Shop); err != nil {
		return fmt.Errorf("shop validation failed: %w", err)
	}

	if len(menu.Items) == 0 {
		return fmt.Errorf("at least one menu item is required")
	}

	names := make(map[string]bool)
	for i, item := range menu.Items {
		if err := v.validateItem(&item); err != nil {
			return fmt.Errorf("item %d validation failed: %w", i, err)
		}

		key := itemKey(item.Name)
		if names[key] {
			return fmt.Errorf("duplicate menu item: %s", item.Name)
		}
		names[key] = true
	}

	return nil
}

func (v *Validator) validateShop(shop *ShopConfig) error {
	if strings.TrimSpace(shop.Name) == "" {
		return fmt.Errorf("shop name is required")
	}

	if shop.Currency != "" && !currencyCodeRegex.MatchString(shop.Currency) {
		return fmt.Errorf("currency must be a three letter ISO code")
	}

	if shop.DeliveryFeeCents < 0 {
		return fmt.Errorf("delivery fee must be zero or positive")
	}

	return nil
}

func (v *Validator) validateItem(item *MenuItem) error {
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("item name is required")
	}

	if item.UnitPriceCents <= 0 {
		return fmt.Errorf("item unit price must be positive")
	}

	return nil
}

func itemKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
