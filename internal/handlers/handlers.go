package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/darjeelingmomo/momoshop/internal/auth"
	"github.com/darjeelingmomo/momoshop/internal/cache"
	"github.com/darjeelingmomo/momoshop/internal/catalog"
	"github.com/darjeelingmomo/momoshop/internal/config"
	"github.com/darjeelingmomo/momoshop/internal/db"
	"github.com/darjeelingmomo/momoshop/internal/logging"
	"github.com/darjeelingmomo/momoshop/internal/models"
	"github.com/darjeelingmomo/momoshop/internal/services"
)

const (
	maxWebhookBodyBytes = 1 << 20 // 1 MB
	maxRequestBodyBytes = 64 << 10
)

// Pinger reports whether the order store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers provides HTTP request handlers for the ordering API.
type Handlers struct {
	config        *config.Config
	orders        *services.OrderService
	stripeRouter  *StripeEventRouter
	cacheProvider cache.Provider
	authenticator *auth.Authenticator
	pinger        Pinger
	menu          *catalog.Menu
	corsOrigins   map[string]struct{}
	logger        *slog.Logger
}

type Dependencies struct {
	Config        *config.Config
	OrderService  *services.OrderService
	StripeRouter  *StripeEventRouter
	CacheProvider cache.Provider
	Authenticator *auth.Authenticator
	Pinger        Pinger
	Menu          *catalog.Menu // optional
	Logger        *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.StripeRouter == nil {
		return nil, fmt.Errorf("handlers dependencies: stripeRouter is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.Authenticator == nil {
		return nil, fmt.Errorf("handlers dependencies: authenticator is required")
	}
	if deps.Pinger == nil {
		return nil, fmt.Errorf("handlers dependencies: pinger is required")
	}

	origins := make(map[string]struct{})
	for _, origin := range deps.Config.CORSOrigins() {
		origins[origin] = struct{}{}
	}

	return &Handlers{
		config:        deps.Config,
		orders:        deps.OrderService,
		stripeRouter:  deps.StripeRouter,
		cacheProvider: deps.CacheProvider,
		authenticator: deps.Authenticator,
		pinger:        deps.Pinger,
		menu:          deps.Menu,
		corsOrigins:   origins,
		logger:        logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.pinger.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// writeServiceError maps service and store errors onto status codes. Internal
// details are logged, not returned.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var invalid *models.ValidationError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: invalid.Error(), Field: invalid.Field})
	case errors.Is(err, models.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, db.ErrCheckoutSessionBound):
		writeError(w, http.StatusConflict, "Order already has a checkout session")
	case errors.Is(err, services.ErrGateway):
		h.loggerFromContext(r.Context()).Error(action+" failed at payment provider", "error", err)
		writeError(w, http.StatusBadGateway, "Payment provider unavailable, please try again")
	default:
		h.loggerFromContext(r.Context()).Error(action+" failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &models.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}
