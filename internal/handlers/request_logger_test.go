package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "caller id kept", header: "req-123", keep: true},
		{name: "missing", header: ""},
		{name: "too long", header: strings.Repeat("a", maxRequestIDLength+1)},
		{name: "control characters", header: "req\x01id"},
		{name: "spaces", header: "req id"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("X-Request-ID", tt.header)
		}
		got := requestIDFromRequest(req)
		if tt.keep && got != tt.header {
			t.Fatalf("%s: expected %q, got %q", tt.name, tt.header, got)
		}
		if !tt.keep && (got == tt.header || len(got) != 36) {
			t.Fatalf("%s: expected a fresh uuid, got %q", tt.name, got)
		}
	}
}

func TestCompletionLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{path: "/health", status: http.StatusServiceUnavailable, want: slog.LevelDebug},
		{path: "/metrics", status: http.StatusOK, want: slog.LevelDebug},
		{path: "/api/order/place", status: http.StatusOK, want: slog.LevelInfo},
		{path: "/api/order/place", status: http.StatusBadRequest, want: slog.LevelWarn},
		{path: "/webhooks/stripe", status: http.StatusInternalServerError, want: slog.LevelError},
	}
	for _, tt := range tests {
		if got := completionLevel(tt.path, tt.status); got != tt.want {
			t.Fatalf("completionLevel(%s, %d) = %s, want %s", tt.path, tt.status, got, tt.want)
		}
	}
}

func TestRequestLogger_EchoesRequestID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	handler := env.handlers.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/order/userorders", nil)
	req.Header.Set("X-Request-ID", "abc-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "abc-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}
