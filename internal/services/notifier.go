package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/darjeelingmomo/momoshop/internal/db"
	"github.com/darjeelingmomo/momoshop/internal/email"
	"github.com/darjeelingmomo/momoshop/internal/logging"
	"github.com/darjeelingmomo/momoshop/internal/models"
)

const (
	defaultNotifyPollInterval   = 5 * time.Second
	defaultNotifyBatchSize      = 20
	defaultNotifyMaxAttempts    = 5
	defaultNotifyRetryBaseDelay = 30 * time.Second
	defaultNotifyLease          = 2 * time.Minute
	maxNotifyRetryDelay         = time.Hour
)

var (
	notificationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "momoshop_notifications_attempts_total",
		Help: "Total number of notification delivery attempts grouped by result.",
	}, []string{"kind", "result"})
	notificationPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "momoshop_notifications_pending",
		Help: "Current number of queued or in-flight notifications.",
	})
	notificationOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "momoshop_notifications_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest undelivered notification.",
	})
)

// NotificationStore is the outbox the notifier drains.
type NotificationStore interface {
	ClaimDueNotifications(ctx context.Context, limit int, lease time.Duration) ([]*models.Notification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID, attempt int) error
	RescheduleNotification(ctx context.Context, id uuid.UUID, attempt int, nextAttemptAt time.Time, lastErr string) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, attempt int, lastErr string) error
	NotificationStats(ctx context.Context) (models.NotificationStats, error)
	GetByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type NotifierOptions struct {
	Logger         *slog.Logger
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Lease          time.Duration
}

type NotifierOption func(*NotifierOptions)

func WithNotifierLogger(logger *slog.Logger) NotifierOption {
	return func(opts *NotifierOptions) {
		opts.Logger = logger
	}
}

func WithNotifierPollInterval(interval time.Duration) NotifierOption {
	return func(opts *NotifierOptions) {
		opts.PollInterval = interval
	}
}

func WithNotifierBatchSize(batchSize int) NotifierOption {
	return func(opts *NotifierOptions) {
		opts.BatchSize = batchSize
	}
}

// WithNotifierMaxAttempts sets how many deliveries are tried before a
// notification is marked failed.
func WithNotifierMaxAttempts(maxAttempts int) NotifierOption {
	return func(opts *NotifierOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

func WithNotifierRetryBaseDelay(delay time.Duration) NotifierOption {
	return func(opts *NotifierOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithNotifierLease sets how long a claimed notification stays invisible to
// other workers. A crashed send is retried after the lease runs out.
func WithNotifierLease(lease time.Duration) NotifierOption {
	return func(opts *NotifierOptions) {
		opts.Lease = lease
	}
}

// Notifier delivers the customer emails queued by order transitions. Delivery
// is at-least-once per queued row and never touches order status.
type Notifier struct {
	store          NotificationStore
	sender         OrderEmailSender
	logger         *slog.Logger
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	lease          time.Duration
	wake           chan struct{}
	now            func() time.Time
}

func NewNotifier(store NotificationStore, sender OrderEmailSender, options ...NotifierOption) *Notifier {
	opts := NotifierOptions{
		PollInterval:   defaultNotifyPollInterval,
		BatchSize:      defaultNotifyBatchSize,
		MaxAttempts:    defaultNotifyMaxAttempts,
		RetryBaseDelay: defaultNotifyRetryBaseDelay,
		Lease:          defaultNotifyLease,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultNotifyPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultNotifyBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultNotifyMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Lease <= 0 {
		opts.Lease = defaultNotifyLease
	}

	return &Notifier{
		store:          store,
		sender:         sender,
		logger:         logger.With("component", "notifier"),
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		lease:          opts.Lease,
		wake:           make(chan struct{}, 1),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Wake asks the running loop to poll now. It never blocks.
func (n *Notifier) Wake() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Run polls the outbox until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	if n.store == nil || n.sender == nil {
		n.logger.Warn("notifier is disabled: store or sender is nil")
		return
	}

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()

	n.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-n.wake:
		}
		n.ProcessOnce(ctx)
	}
}

// ProcessOnce drains one batch of due notifications.
func (n *Notifier) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	n.refreshBacklogMetrics(ctx)

	due, err := n.store.ClaimDueNotifications(ctx, n.batchSize, n.lease)
	if err != nil {
		n.logger.Warn("failed to claim due notifications", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	for _, notification := range due {
		if ctx.Err() != nil {
			return
		}
		n.deliver(ctx, notification)
	}

	n.refreshBacklogMetrics(ctx)
}

func (n *Notifier) deliver(ctx context.Context, notification *models.Notification) {
	hub := sentry.CurrentHub().Clone()
	ctx = sentry.SetHubOnContext(ctx, hub)
	logger := n.logger.With(
		"notification_id", notification.ID,
		"order_id", notification.OrderID,
		"kind", notification.Kind,
		"attempt", notification.Attempts,
	)
	ctx = logging.WithLogger(ctx, logger)

	order, err := n.store.GetByID(ctx, notification.OrderID)
	if err == nil {
		err = n.sender.SendOrderEmail(ctx, notification.Kind, order, notification.Recipient)
	}
	if err == nil {
		notificationAttempts.WithLabelValues(string(notification.Kind), "sent").Inc()
		if markErr := n.store.MarkNotificationSent(ctx, notification.ID, notification.Attempts); markErr != nil {
			logSettleError(logger, "failed to mark notification as sent", markErr)
		}
		logger.Info("notification sent")
		return
	}

	if permanent := email.IsPermanent(err); permanent || notification.Attempts >= n.maxAttempts {
		notificationAttempts.WithLabelValues(string(notification.Kind), "failed").Inc()
		logger.Error("notification delivery failed", "error", err, "permanent", permanent)
		if markErr := n.store.MarkNotificationFailed(ctx, notification.ID, notification.Attempts, err.Error()); markErr != nil {
			logSettleError(logger, "failed to mark notification as failed", markErr)
		}
		return
	}

	notificationAttempts.WithLabelValues(string(notification.Kind), "retry").Inc()
	next := n.now().Add(n.retryBackoff(notification.Attempts))
	logger.Warn("notification delivery failed, will retry", "error", err, "next_attempt_at", next)
	if markErr := n.store.RescheduleNotification(ctx, notification.ID, notification.Attempts, next, err.Error()); markErr != nil {
		logSettleError(logger, "failed to reschedule notification", markErr)
	}
}

func logSettleError(logger *slog.Logger, msg string, err error) {
	if errors.Is(err, db.ErrNotificationLeaseLost) {
		logger.Info("notification was reclaimed by another worker, dropping result")
		return
	}
	logger.Warn(msg, "error", err)
}

func (n *Notifier) refreshBacklogMetrics(ctx context.Context) {
	stats, err := n.store.NotificationStats(ctx)
	if err != nil {
		n.logger.Warn("failed to collect notification backlog stats", "error", err)
		return
	}

	notificationPending.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		notificationOldestPendingAge.Set(0)
		return
	}

	age := n.now().Sub(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	notificationOldestPendingAge.Set(age)
}

func (n *Notifier) retryBackoff(attempt int) time.Duration {
	if n.retryBaseDelay <= 0 {
		return 0
	}
	delay := n.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= maxNotifyRetryDelay/2 {
			return maxNotifyRetryDelay
		}
		delay *= 2
	}
	if delay > maxNotifyRetryDelay {
		return maxNotifyRetryDelay
	}
	return delay
}
