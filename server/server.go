package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darjeelingmomo/momoshop/internal/config"
	"github.com/darjeelingmomo/momoshop/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler returns the full HTTP stack: CORS outside the router, then the
// routed API.
func (s *Server) Handler() http.Handler {
	return s.handlers.CORS(s.buildRouter())
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET").Name("metrics")
	r.HandleFunc("/webhooks/stripe", h.StripeWebhook).Methods("POST").Name("webhooks.stripe")

	// 404 handler - must be last
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)

	r.HandleFunc("/api/food/list", h.ListFood).Methods("GET").Name("food.list")

	api := r.PathPrefix("/api/order").Subrouter()
	api.HandleFunc("/verify", h.VerifyOrder).Methods("POST").Name("order.verify")

	customer := api.NewRoute().Subrouter()
	customer.Use(h.RequireCustomer)
	customer.HandleFunc("/place", h.PlaceOrder).Methods("POST").Name("order.place")
	customer.HandleFunc("/userorders", h.UserOrders).Methods("GET", "POST").Name("order.userorders")

	admin := api.NewRoute().Subrouter()
	admin.Use(h.RequireAdmin)
	admin.HandleFunc("/list", h.ListOrders).Methods("GET").Name("order.list")
	admin.HandleFunc("/status", h.UpdateStatus).Methods("POST").Name("order.status")

	owner := api.NewRoute().Subrouter()
	owner.Use(h.RequireCustomer)
	owner.HandleFunc("/{id:[0-9a-fA-F-]{36}}", h.GetOrder).Methods("GET").Name("order.get")

	return r
}
