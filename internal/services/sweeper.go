package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/darjeelingmomo/momoshop/internal/models"
)

const (
	defaultSweepInterval  = 10 * time.Minute
	defaultSweepBatchSize = 100
	defaultPendingTTL     = 24 * time.Hour
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momoshop_pending_sweep_runs_total",
		Help: "Total number of stale pending order sweeps grouped by result.",
	}, []string{"result"})
	sweepOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momoshop_pending_sweep_orders_total",
		Help: "Stale pending orders handled by the sweeper grouped by outcome.",
	}, []string{"outcome"})
)

type staleOrderSource interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error)
}

type orderCloser interface {
	Confirm(ctx context.Context, orderID uuid.UUID) (bool, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (bool, error)
}

type SweeperOptions struct {
	Logger     *slog.Logger
	Interval   time.Duration
	PendingTTL time.Duration
	BatchSize  int
}

type SweeperOption func(*SweeperOptions)

func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithPendingTTL sets how long an order may stay pending before it is swept.
func WithPendingTTL(ttl time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.PendingTTL = ttl
	}
}

func WithSweepBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// PendingSweeper closes orders that never received a verify callback or a
// webhook. Each one is reconciled against the provider first, so a payment
// that landed without a signal still confirms the order.
type PendingSweeper struct {
	orders     staleOrderSource
	lifecycle  orderCloser
	gateway    PaymentGateway
	logger     *slog.Logger
	interval   time.Duration
	pendingTTL time.Duration
	batchSize  int
	now        func() time.Time
}

func NewPendingSweeper(orders staleOrderSource, lifecycle orderCloser, gateway PaymentGateway, options ...SweeperOption) *PendingSweeper {
	opts := SweeperOptions{
		Interval:   defaultSweepInterval,
		PendingTTL: defaultPendingTTL,
		BatchSize:  defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = defaultPendingTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &PendingSweeper{
		orders:     orders,
		lifecycle:  lifecycle,
		gateway:    gateway,
		logger:     logger.With("component", "pending_sweeper"),
		interval:   opts.Interval,
		pendingTTL: opts.PendingTTL,
		batchSize:  opts.BatchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *PendingSweeper) Run(ctx context.Context) {
	if s.orders == nil || s.lifecycle == nil {
		s.logger.Warn("pending sweeper is disabled: store or lifecycle is nil")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("pending sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce handles one batch of stale pending orders and returns how many
// left pending.
func (s *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.pendingTTL)
	stale, err := s.orders.ListStalePending(ctx, cutoff, s.batchSize)
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	closed := 0
	for _, order := range stale {
		if ctx.Err() != nil {
			break
		}
		if s.sweepOrder(ctx, order) {
			closed++
		}
	}

	sweepRunsTotal.WithLabelValues("success").Inc()
	if len(stale) > 0 {
		s.logger.Info("pending sweep completed", "stale", len(stale), "closed", closed, "cutoff", cutoff)
	}
	return closed, nil
}

func (s *PendingSweeper) sweepOrder(ctx context.Context, order *models.Order) bool {
	logger := s.logger.With("order_id", order.ID, "session_id", order.CheckoutSessionRef)

	if order.CheckoutSessionRef != "" && s.gateway != nil {
		sess, err := s.gateway.GetCheckoutSession(ctx, order.CheckoutSessionRef)
		if err != nil {
			sweepOrdersTotal.WithLabelValues("gateway_error").Inc()
			logger.Warn("failed to load checkout session, leaving order pending", "error", err)
			return false
		}
		if sess.Paid() {
			applied, err := s.lifecycle.Confirm(ctx, order.ID)
			if err != nil {
				sweepOrdersTotal.WithLabelValues("error").Inc()
				logger.Warn("failed to confirm swept order", "error", err)
				return false
			}
			sweepOrdersTotal.WithLabelValues("confirmed").Inc()
			logger.Info("swept order was paid, confirmed", "applied", applied)
			return applied
		}
		if !sess.Expired() {
			if err := s.gateway.ExpireCheckoutSession(ctx, sess.ID); err != nil {
				sweepOrdersTotal.WithLabelValues("gateway_error").Inc()
				logger.Warn("failed to expire checkout session, leaving order pending", "error", err)
				return false
			}
		}
	}

	applied, err := s.lifecycle.Cancel(ctx, order.ID, ReasonPendingTimeout)
	if err != nil {
		sweepOrdersTotal.WithLabelValues("error").Inc()
		logger.Warn("failed to cancel stale order", "error", err)
		return false
	}
	sweepOrdersTotal.WithLabelValues("cancelled").Inc()
	logger.Info("stale pending order cancelled", "applied", applied)
	return applied
}
