package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port      string     `env:"PORT" envDefault:"8080"`
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`

	BaseURL        string   `env:"BASE_URL" validate:"omitempty,url"`
	FrontendURL    string   `env:"FRONTEND_URL" envDefault:"http://localhost:5173" validate:"required,url"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," validate:"dive,url"`

	StoreProvider string `env:"STORE_PROVIDER" envDefault:"postgres" validate:"oneof=postgres memory"`
	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=StoreProvider postgres"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY,required" validate:"required"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required" validate:"required"`
	Currency            string        `env:"CURRENCY" envDefault:"nzd" validate:"len=3"`
	CheckoutSessionTTL  time.Duration `env:"CHECKOUT_SESSION_TTL" envDefault:"30m" validate:"min=30m,max=24h"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=16"`

	EmailProvider    string `env:"EMAIL_PROVIDER" validate:"omitempty,oneof=resend postmark mailgun log"`
	EmailAPIKey      string `env:"EMAIL_API_KEY"`
	EmailFrom        string `env:"EMAIL_FROM" validate:"omitempty,email"`
	EmailDomain      string `env:"EMAIL_DOMAIN"`
	EmailBaseURL     string `env:"EMAIL_BASE_URL" validate:"omitempty,url"`
	EmailTemplateDir string `env:"EMAIL_TEMPLATE_DIR"`

	ShopName     string `env:"SHOP_NAME" envDefault:"Darjeeling Momo NZ"`
	DeliveryTime string `env:"DELIVERY_TIME" envDefault:"within 2 hours"`
	MenuFile     string `env:"MENU_FILE"`

	PendingOrderTTL      time.Duration `env:"PENDING_ORDER_TTL" envDefault:"24h"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m" validate:"min=1s"`
	NotifyPollInterval   time.Duration `env:"NOTIFY_POLL_INTERVAL" envDefault:"5s" validate:"min=100ms"`
	NotifyMaxAttempts    int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"5" validate:"min=1,max=50"`
	NotifyRetryBaseDelay time.Duration `env:"NOTIFY_RETRY_BASE_DELAY" envDefault:"30s"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"development"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	switch c.EmailProvider {
	case "resend", "postmark", "mailgun":
		if strings.TrimSpace(c.EmailAPIKey) == "" || strings.TrimSpace(c.EmailFrom) == "" {
			return fmt.Errorf("EMAIL_API_KEY and EMAIL_FROM are required for EMAIL_PROVIDER=%s", c.EmailProvider)
		}
		if c.EmailProvider == "mailgun" && strings.TrimSpace(c.EmailDomain) == "" {
			return fmt.Errorf("EMAIL_DOMAIN is required for EMAIL_PROVIDER=mailgun")
		}
	}

	if c.PendingOrderTTL < c.CheckoutSessionTTL {
		return fmt.Errorf("PENDING_ORDER_TTL must not be shorter than CHECKOUT_SESSION_TTL")
	}

	if baseURL := strings.TrimSpace(c.BaseURL); baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("BASE_URL must be a valid absolute URL")
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("BASE_URL must use https outside local development")
		}
	}

	return nil
}

// CORSOrigins returns the origins allowed to call the API from a browser. The
// frontend URL is always included.
func (c *Config) CORSOrigins() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(c.AllowedOrigins)+1)
	for _, raw := range append([]string{c.FrontendURL}, c.AllowedOrigins...) {
		origin := normalizeOrigin(raw)
		if origin == "" {
			continue
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		out = append(out, origin)
	}
	return out
}

func normalizeOrigin(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
