package cache

// Package cache provides caching for webhook and order placement idempotency.

import (
	"context"
	"fmt"
	"time"
)

// Provider defines the interface for short-lived idempotency records.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetIfAbsent stores value only when key is missing or expired and
	// reports whether it did.
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

func WebhookKey(source, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", source, eventID)
}

// IdempotencyKey scopes a client supplied Idempotency-Key to the customer
// that sent it.
func IdempotencyKey(customerID, key string) string {
	return fmt.Sprintf("idempotency:order:%s:%s", customerID, key)
}
