package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/darjeelingmomo/momoshop/internal/catalog"
)

func TestListFood(t *testing.T) {
	t.Parallel()

	soldOut := false
	menu := &catalog.Menu{
		Shop: catalog.ShopConfig{Name: "Darjeeling Momo NZ", Currency: "nzd", DeliveryFeeCents: 500},
		Items: []catalog.MenuItem{
			{Name: "Momo", Category: "dumplings", UnitPriceCents: 1000},
			{Name: "Thukpa", UnitPriceCents: 1400, Available: &soldOut},
		},
	}

	tests := []struct {
		name      string
		menu      *catalog.Menu
		wantItems int
		wantFee   int64
	}{
		{name: "no menu loaded", menu: nil, wantItems: 0},
		{name: "menu loaded", menu: menu, wantItems: 2, wantFee: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			env.handlers.menu = tt.menu

			rec := httptest.NewRecorder()
			env.handlers.ListFood(rec, httptest.NewRequest(http.MethodGet, "/api/food/list", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
			}

			var resp foodListResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if !resp.Success || resp.Data == nil {
				t.Fatalf("expected success with a data array, got %+v", resp)
			}
			if len(resp.Data) != tt.wantItems || resp.DeliveryFeeCents != tt.wantFee {
				t.Fatalf("unexpected response %+v", resp)
			}
			if tt.menu != nil && (!resp.Data[0].Available || resp.Data[1].Available) {
				t.Fatalf("expected availability to follow the menu, got %+v", resp.Data)
			}
		})
	}
}
