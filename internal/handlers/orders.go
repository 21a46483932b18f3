package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/darjeelingmomo/momoshop/internal/cache"
	"github.com/darjeelingmomo/momoshop/internal/db"
	"github.com/darjeelingmomo/momoshop/internal/models"
	"github.com/darjeelingmomo/momoshop/internal/services"
)

const (
	idempotencyTTL      = 24 * time.Hour
	idempotencyInFlight = "in_flight"
	maxIdempotencyKey   = 255
)

type placeOrderRequest struct {
	Items            []models.LineItem      `json:"items"`
	DeliveryFeeCents int64                  `json:"delivery_fee_cents"`
	AmountCents      int64                  `json:"amount_cents"`
	Address          models.DeliveryAddress `json:"address"`
}

type placeOrderResponse struct {
	Success          bool      `json:"success"`
	OrderID          uuid.UUID `json:"order_id"`
	SessionURL       string    `json:"session_url"`
	TotalAmountCents int64     `json:"total_amount_cents"`
}

// PlaceOrder creates a pending order and returns the hosted checkout URL.
// A repeated Idempotency-Key from the same customer replays the first
// successful response instead of opening a second session.
func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	principal := principalFromRequest(r)
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, login again")
		return
	}

	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeServiceError(w, r, err, "place order")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idempotencyKey) > maxIdempotencyKey {
		writeError(w, http.StatusBadRequest, "Idempotency-Key is too long")
		return
	}
	cacheKey := ""
	if idempotencyKey != "" {
		cacheKey = cache.IdempotencyKey(principal.Subject, idempotencyKey)
		acquired, err := h.cacheProvider.SetIfAbsent(ctx, cacheKey, idempotencyInFlight, idempotencyTTL)
		switch {
		case err != nil:
			logger.Warn("idempotency cache unavailable, placing order without it", "error", err)
			cacheKey = ""
		case !acquired:
			h.replayPlaceOrder(w, r, cacheKey)
			return
		}
	}

	result, err := h.orders.PlaceOrder(ctx, services.PlaceOrderInput{
		CustomerID:        principal.Subject,
		Items:             req.Items,
		DeliveryFeeCents:  req.DeliveryFeeCents,
		Address:           req.Address,
		ClaimedTotalCents: req.AmountCents,
	})
	if err != nil {
		if cacheKey != "" {
			if delErr := h.cacheProvider.Delete(ctx, cacheKey); delErr != nil {
				logger.Warn("failed to release idempotency key", "error", delErr)
			}
		}
		h.writeServiceError(w, r, err, "place order")
		return
	}

	resp := placeOrderResponse{
		Success:          true,
		OrderID:          result.OrderID,
		SessionURL:       result.CheckoutURL,
		TotalAmountCents: result.TotalAmountCents,
	}
	if cacheKey != "" {
		if body, err := json.Marshal(resp); err == nil {
			if err := h.cacheProvider.Set(ctx, cacheKey, string(body), idempotencyTTL); err != nil {
				logger.Warn("failed to store idempotent response", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) replayPlaceOrder(w http.ResponseWriter, r *http.Request, cacheKey string) {
	stored, err := h.cacheProvider.Get(r.Context(), cacheKey)
	if err != nil || stored == idempotencyInFlight {
		writeError(w, http.StatusConflict, "A request with this Idempotency-Key is still in progress")
		return
	}

	h.loggerFromContext(r.Context()).Info("replaying idempotent order placement")
	w.Header().Set("Idempotent-Replayed", "true")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(stored))
}

// flexBool accepts both JSON booleans and the strings "true"/"false" that
// the storefront puts in the redirect query and forwards as-is.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*b = false
		return nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", raw)
	}
	*b = flexBool(parsed)
	return nil
}

type verifyRequest struct {
	OrderID string   `json:"orderId"`
	Success flexBool `json:"success"`
}

type verifyResponse struct {
	Success bool               `json:"success"`
	OrderID uuid.UUID          `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
	Message string             `json:"message"`
}

// VerifyOrder reconciles an order when the customer returns from checkout.
func (h *Handlers) VerifyOrder(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeServiceError(w, r, err, "verify order")
		return
	}

	orderID, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "orderId must be a valid order id", Field: "orderId"})
		return
	}

	result, err := h.orders.Verify(r.Context(), orderID, bool(req.Success))
	if err != nil {
		h.writeServiceError(w, r, err, "verify order")
		return
	}

	resp := verifyResponse{
		Success: result.Order.Status == models.StatusPaid,
		OrderID: result.Order.ID,
		Status:  result.Order.Status,
	}
	switch result.Order.Status {
	case models.StatusPaid:
		resp.Message = "Paid"
	case models.StatusPending:
		resp.Message = "Payment pending"
	default:
		resp.Message = "Not Paid"
	}
	writeJSON(w, http.StatusOK, resp)
}

type ordersResponse struct {
	Success bool            `json:"success"`
	Data    []*models.Order `json:"data"`
}

// UserOrders lists the caller's own orders, newest first.
func (h *Handlers) UserOrders(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, login again")
		return
	}

	orders, err := h.orders.ListCustomerOrders(r.Context(), principal.Subject)
	if err != nil {
		h.writeServiceError(w, r, err, "list customer orders")
		return
	}
	writeJSON(w, http.StatusOK, ordersResponse{Success: true, Data: orders})
}

// ListOrders is the administrative listing with optional status filter and paging.
func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := db.ListFilter{Status: models.OrderStatus(strings.TrimSpace(query.Get("status")))}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: name + " must be an integer", Field: name})
			return
		}
		*dst = value
	}

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err, "list orders")
		return
	}
	writeJSON(w, http.StatusOK, ordersResponse{Success: true, Data: orders})
}

type updateStatusRequest struct {
	OrderID string             `json:"orderId"`
	Status  models.OrderStatus `json:"status"`
	Reason  string             `json:"reason"`
}

type orderResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Data    *models.Order `json:"data"`
}

// UpdateStatus is the administrative override. It bypasses the guarded
// lifecycle and sends no email.
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeServiceError(w, r, err, "update order status")
		return
	}

	orderID, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "orderId must be a valid order id", Field: "orderId"})
		return
	}

	actor := ""
	if principal := principalFromRequest(r); principal != nil {
		actor = principal.Subject
	}

	order, err := h.orders.OverrideStatus(r.Context(), orderID, req.Status, strings.TrimSpace(req.Reason), actor)
	if err != nil {
		h.writeServiceError(w, r, err, "update order status")
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Message: "Status Updated", Data: order})
}

// GetOrder returns one order to its owner or to an admin. Other callers get
// the same 404 as for a missing order.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	if principal == nil {
		writeError(w, http.StatusUnauthorized, "Not authorized, login again")
		return
	}

	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, r, err, "get order")
		return
	}
	if !principal.IsAdmin() && order.CustomerID != principal.Subject {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Data: order})
}
