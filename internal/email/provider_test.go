package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{name: "postmark", provider: "postmark"},
		{name: "mailgun", provider: "Mailgun"},
		{name: "resend", provider: "resend"},
		{name: "empty logs", provider: ""},
		{name: "explicit log", provider: "log"},
		{name: "unknown", provider: "sendgrid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewProvider(Config{Provider: tt.provider, APIKey: "key", From: "shop@example.com", Domain: "mg.example.com"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for provider %q", tt.provider)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if p == nil {
				t.Fatalf("expected provider")
			}
		})
	}
}

func TestPostmarkProvider_SendEmail(t *testing.T) {
	t.Parallel()

	var got postmarkEmail
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/email" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Postmark-Server-Token") != "pm-token" {
			t.Errorf("missing server token header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ErrorCode":0,"Message":"OK","MessageID":"abc"}`))
	}))
	defer server.Close()

	p := NewPostmarkProvider("pm-token", "shop@example.com", withBaseURL(server.URL), withHTTPClient(server.Client()))
	err := p.SendEmail(context.Background(), &Email{To: "pema@example.com", Subject: "Hi", Text: "body", Tag: TemplateOrderConfirmation})
	if err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
	if got.To != "pema@example.com" || got.From != "shop@example.com" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Tag != TemplateOrderConfirmation {
		t.Fatalf("expected tag %q, got %q", TemplateOrderConfirmation, got.Tag)
	}
}

func TestPostmarkProvider_SendEmailError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer server.Close()

	p := NewPostmarkProvider("pm-token", "shop@example.com", withBaseURL(server.URL))
	err := p.SendEmail(context.Background(), &Email{To: "x@example.com", Subject: "Hi", Text: "body"})
	var relayErr *RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("expected RelayError, got %v", err)
	}
	if relayErr.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(relayErr.Message, "Invalid email request") {
		t.Fatalf("unexpected relay error %+v", relayErr)
	}
	if !IsPermanent(err) {
		t.Fatalf("expected 422 to be permanent")
	}
}

func TestRelayErrorPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   bool
	}{
		{status: http.StatusBadRequest, want: true},
		{status: http.StatusUnauthorized, want: true},
		{status: http.StatusUnprocessableEntity, want: true},
		{status: http.StatusRequestTimeout, want: false},
		{status: http.StatusTooManyRequests, want: false},
		{status: http.StatusBadGateway, want: false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("send: %w", &RelayError{Provider: "mailgun", StatusCode: tt.status})
		if got := IsPermanent(err); got != tt.want {
			t.Fatalf("IsPermanent(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
	if IsPermanent(errors.New("connection reset")) {
		t.Fatalf("transport errors must be retried")
	}
}

func TestMailgunProvider_SendEmail(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mg.example.com/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "mg-key" {
			t.Errorf("unexpected basic auth %q/%q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("o:tag") != TemplatePaymentFailed {
			t.Errorf("expected o:tag %q, got %q", TemplatePaymentFailed, r.PostForm.Get("o:tag"))
		}
		if r.PostForm.Get("to") != "pema@example.com" {
			t.Errorf("unexpected recipient %q", r.PostForm.Get("to"))
		}
		_, _ = w.Write([]byte(`{"id":"<1@mg>","message":"Queued. Thank you."}`))
	}))
	defer server.Close()

	p := NewMailgunProvider("mg-key", "mg.example.com", "shop@example.com", withBaseURL(server.URL+"/"))
	err := p.SendEmail(context.Background(), &Email{To: "pema@example.com", Subject: "Hi", HTML: "<p>x</p>", Tag: TemplatePaymentFailed})
	if err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
}

func TestMailgunProvider_ValidateAPIKeyRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewMailgunProvider("bad", "mg.example.com", "shop@example.com", withBaseURL(server.URL))
	if err := p.ValidateAPIKey(context.Background()); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestResendProvider_SendEmail(t *testing.T) {
	t.Parallel()

	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer re-key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_1"}`))
	}))
	defer server.Close()

	p := NewResendProvider("re-key", "shop@example.com", withBaseURL(server.URL), withHTTPClient(server.Client()))
	if err := p.SendEmail(context.Background(), &Email{To: "pema@example.com", Subject: "Hi", Text: "body"}); err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
	if got["from"] != "shop@example.com" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestResendProvider_SendEmailErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		wantPermanent bool
	}{
		{name: "invalid recipient", status: http.StatusUnprocessableEntity, wantPermanent: true},
		{name: "forbidden sender", status: http.StatusForbidden, wantPermanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests},
		{name: "server error", status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"statusCode":` + fmt.Sprint(tt.status) + `,"message":"rejected"}`))
			}))
			defer server.Close()

			p := NewResendProvider("re-key", "shop@example.com", withBaseURL(server.URL))
			err := p.SendEmail(context.Background(), &Email{To: "x@example.com", Subject: "Hi", Text: "body"})
			var relayErr *RelayError
			if !errors.As(err, &relayErr) {
				t.Fatalf("expected RelayError, got %v", err)
			}
			if relayErr.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, relayErr.StatusCode)
			}
			if got := IsPermanent(err); got != tt.wantPermanent {
				t.Fatalf("IsPermanent() = %v, want %v", got, tt.wantPermanent)
			}
		})
	}
}

func TestLogProvider(t *testing.T) {
	t.Parallel()

	p := NewLogProvider(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := p.SendEmail(context.Background(), &Email{To: "x@example.com"}); err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
	if err := p.SendEmail(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil email")
	}
}
