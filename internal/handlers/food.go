package handlers

import (
	"net/http"

	"github.com/darjeelingmomo/momoshop/internal/catalog"
)

type foodItem struct {
	Name           string `json:"name"`
	Category       string `json:"category,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Available      bool   `json:"available"`
}

type foodListResponse struct {
	Success          bool       `json:"success"`
	Currency         string     `json:"currency,omitempty"`
	DeliveryFeeCents int64      `json:"delivery_fee_cents"`
	Data             []foodItem `json:"data"`
}

// ListFood serves the loaded menu read-only. Items marked unavailable are
// listed so the storefront can show them as sold out.
func (h *Handlers) ListFood(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildFoodList(h.menu))
}

func buildFoodList(menu *catalog.Menu) foodListResponse {
	resp := foodListResponse{Success: true, Data: []foodItem{}}
	if menu == nil {
		return resp
	}
	resp.Currency = menu.Shop.Currency
	resp.DeliveryFeeCents = menu.Shop.DeliveryFeeCents
	for _, item := range menu.Items {
		resp.Data = append(resp.Data, foodItem{
			Name:           item.Name,
			Category:       item.Category,
			UnitPriceCents: item.UnitPriceCents,
			Available:      item.IsAvailable(),
		})
	}
	return resp
}
