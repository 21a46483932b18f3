package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/darjeelingmomo/momoshop/internal/auth"
	"github.com/darjeelingmomo/momoshop/internal/cache"
	"github.com/darjeelingmomo/momoshop/internal/catalog"
	"github.com/darjeelingmomo/momoshop/internal/config"
	"github.com/darjeelingmomo/momoshop/internal/db"
	"github.com/darjeelingmomo/momoshop/internal/email"
	"github.com/darjeelingmomo/momoshop/internal/handlers"
	"github.com/darjeelingmomo/momoshop/internal/logging"
	"github.com/darjeelingmomo/momoshop/internal/observability"
	"github.com/darjeelingmomo/momoshop/internal/services"
	"github.com/darjeelingmomo/momoshop/internal/stripe"
)

const (
	stripeHTTPTimeout = 30 * time.Second
	sentryFlushWait   = 2 * time.Second
)

// orderStore is everything the services need from persistence. Both the
// Postgres and the in-memory store satisfy it.
type orderStore interface {
	services.OrderStore
	services.NotificationStore
	Ping(ctx context.Context) error
}

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Handlers      *handlers.Handlers
	Notifier      *services.Notifier
	Sweeper       *services.PendingSweeper

	sentryEnabled bool
	cancelWorkers context.CancelFunc
	workers       sync.WaitGroup
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	sentryEnabled, err := initSentry(cfg)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, sentryEnabled)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	a := &App{Config: cfg, Logger: logger, sentryEnabled: sentryEnabled}

	store, err := a.openStore(startupCtx)
	if err != nil {
		a.Close()
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}
	a.CacheProvider = cacheProvider

	pricer, err := loadPricer(cfg.MenuFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.EmailAPIKey,
		From:     cfg.EmailFrom,
		Domain:   cfg.EmailDomain,
		BaseURL:  cfg.EmailBaseURL,
	}, logger.With("component", "email"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	renderer, err := email.NewRenderer(cfg.EmailTemplateDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load email templates: %w", err)
	}
	emailSender := services.NewRelayEmailSender(renderer, emailProvider, services.ShopInfo{
		Name:         cfg.ShopName,
		URL:          cfg.FrontendURL,
		DeliveryTime: cfg.DeliveryTime,
	})

	authenticator, err := auth.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	checkout := stripe.NewClient(stripe.Config{
		SecretKey:   cfg.StripeSecretKey,
		FrontendURL: cfg.FrontendURL,
		Currency:    cfg.Currency,
		SessionTTL:  cfg.CheckoutSessionTTL,
		HTTPClient:  observability.NewHTTPClient(stripeHTTPTimeout),
	})

	a.Notifier = services.NewNotifier(store, emailSender,
		services.WithNotifierLogger(logger.With("component", "notifier")),
		services.WithNotifierPollInterval(cfg.NotifyPollInterval),
		services.WithNotifierMaxAttempts(cfg.NotifyMaxAttempts),
		services.WithNotifierRetryBaseDelay(cfg.NotifyRetryBaseDelay),
	)
	orderService := services.NewOrderService(store, checkout, pricer, a.Notifier, cfg.Currency, logger.With("component", "order_service"))
	stripeService := services.NewStripeService(store, orderService, logger.With("component", "stripe_service"))
	stripeRouter := handlers.NewStripeEventRouter(stripeService, logger.With("component", "stripe_router"))
	a.Sweeper = services.NewPendingSweeper(store, orderService, checkout,
		services.WithSweeperLogger(logger.With("component", "pending_sweeper")),
		services.WithSweepInterval(cfg.SweepInterval),
		services.WithPendingTTL(cfg.PendingOrderTTL),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:        cfg,
		OrderService:  orderService,
		StripeRouter:  stripeRouter,
		CacheProvider: cacheProvider,
		Authenticator: authenticator,
		Pinger:        store,
		Menu:          pricer.Menu(),
		Logger:        logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}
	a.Handlers = h

	return a, nil
}

// openStore connects to Postgres and applies migrations, or falls back to the
// in-memory store when STORE_PROVIDER=memory.
func (a *App) openStore(ctx context.Context) (orderStore, error) {
	if a.Config.StoreProvider == "memory" {
		a.Logger.Warn("using in-memory order store, orders are lost on restart")
		return db.NewMemoryStore(), nil
	}

	pool, err := db.Connect(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = pool

	if a.Config.AutoMigrate {
		if err := db.NewMigrator(pool).Up(ctx, 0); err != nil {
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}
	return db.NewOrderStore(pool), nil
}

func loadPricer(menuFile string) (*catalog.Pricer, error) {
	if strings.TrimSpace(menuFile) == "" {
		return catalog.NewPricer(nil), nil
	}

	menu, err := catalog.NewParser().ParseFile(menuFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load menu: %w", err)
	}
	if err := catalog.NewValidator().Validate(menu); err != nil {
		return nil, fmt.Errorf("invalid menu %s: %w", menuFile, err)
	}
	return catalog.NewPricer(menu), nil
}

// StartWorkers runs the notification outbox and the pending-order sweeper
// until Close is called.
func (a *App) StartWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelWorkers = cancel

	a.workers.Add(2)
	go func() {
		defer a.workers.Done()
		a.Notifier.Run(ctx)
	}()
	go func() {
		defer a.workers.Done()
		a.Sweeper.Run(ctx)
	}()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancelWorkers != nil {
		a.cancelWorkers()
		a.workers.Wait()
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.sentryEnabled {
		sentry.Flush(sentryFlushWait)
	}
}

func initSentry(cfg *config.Config) (bool, error) {
	if strings.TrimSpace(cfg.SentryDSN) == "" {
		return false, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.SentryEnvironment,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
	}); err != nil {
		return false, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return true, nil
}

func newLogger(cfg *config.Config, sentryEnabled bool) *slog.Logger {
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		base = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	default:
		base = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if !sentryEnabled {
		return slog.New(base)
	}
	return slog.New(logging.MultiHandler(base, logging.NewSentryHandler(cfg.LogLevel)))
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
