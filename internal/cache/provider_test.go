package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(Config{Provider: "memcached"}); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}

	p, err := NewProvider(Config{})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if _, ok := p.(*MemoryProvider); !ok {
		t.Fatalf("expected memory provider by default, got %T", p)
	}
}

func TestMemoryProvider_Expiry(t *testing.T) {
	t.Parallel()

	p, err := NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	ctx := context.Background()

	if err := p.Set(ctx, "live", "1", time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := p.Set(ctx, "stale", "1", -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if got, err := p.Get(ctx, "live"); err != nil || got != "1" {
		t.Fatalf("Get(live) = %q, %v", got, err)
	}
	if _, err := p.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired key, got %v", err)
	}

	if err := p.Delete(ctx, "live"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := p.Get(ctx, "live"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	if got := WebhookKey("stripe", "evt_1"); got != "webhook:stripe:evt_1" {
		t.Fatalf("unexpected webhook key %q", got)
	}
	if got := IdempotencyKey("cust_1", "abc"); got != "idempotency:order:cust_1:abc" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
}

func TestMemoryProvider_SetIfAbsent(t *testing.T) {
	t.Parallel()

	p, err := NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	ctx := context.Background()

	ok, err := p.SetIfAbsent(ctx, "k", "first", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first SetIfAbsent() = %v, %v", ok, err)
	}
	ok, err = p.SetIfAbsent(ctx, "k", "second", time.Hour)
	if err != nil || ok {
		t.Fatalf("second SetIfAbsent() = %v, %v", ok, err)
	}
	if got, _ := p.Get(ctx, "k"); got != "first" {
		t.Fatalf("expected first value to win, got %q", got)
	}

	if err := p.Set(ctx, "expired", "old", -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if ok, _ := p.SetIfAbsent(ctx, "expired", "new", time.Hour); !ok {
		t.Fatalf("expected SetIfAbsent to replace an expired entry")
	}
}
