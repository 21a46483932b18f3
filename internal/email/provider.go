// Package email provides the outbound mail relay providers.
package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/darjeelingmomo/momoshop/internal/observability"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	Tag     string // Relay-side category, e.g. the template name
}

type Config struct {
	Provider string
	APIKey   string
	From     string
	Domain   string // For Mailgun
	BaseURL  string // Optional API base override for Postmark and Mailgun
}

const providerTimeout = 30 * time.Second

// NewProvider builds the configured relay. An empty provider name yields a
// provider that only logs, for local development.
func NewProvider(config Config, logger *slog.Logger) (Provider, error) {
	httpClient := observability.NewHTTPClient(providerTimeout)

	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "postmark":
		return NewPostmarkProvider(config.APIKey, config.From, withBaseURL(config.BaseURL), withHTTPClient(httpClient)), nil
	case "mailgun":
		return NewMailgunProvider(config.APIKey, config.Domain, config.From, withBaseURL(config.BaseURL), withHTTPClient(httpClient)), nil
	case "resend":
		return NewResendProvider(config.APIKey, config.From, withBaseURL(config.BaseURL), withHTTPClient(httpClient)), nil
	case "", "log":
		return NewLogProvider(logger), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be one of 'postmark', 'mailgun', 'resend' or 'log'")
	}
}

type httpProviderOptions struct {
	baseURL    string
	httpClient *http.Client
}

type httpProviderOption func(*httpProviderOptions)

func withBaseURL(baseURL string) httpProviderOption {
	return func(o *httpProviderOptions) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			o.baseURL = baseURL
		}
	}
}

func withHTTPClient(client *http.Client) httpProviderOption {
	return func(o *httpProviderOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

func resolveHTTPOptions(defaultBaseURL string, opts []httpProviderOption) httpProviderOptions {
	resolved := httpProviderOptions{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: providerTimeout},
	}
	for _, opt := range opts {
		opt(&resolved)
	}
	return resolved
}

// RelayError is a non-2xx answer from a mail relay API.
type RelayError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *RelayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Permanent reports whether resending the same message cannot succeed.
// Timeouts and rate limits are worth retrying, other client errors are not.
func (e *RelayError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsPermanent reports whether err carries a relay rejection that retries
// will not fix.
func IsPermanent(err error) bool {
	var relayErr *RelayError
	return errors.As(err, &relayErr) && relayErr.Permanent()
}

// doRelayRequest sends req and returns the response body of a 2xx answer.
// Other statuses become a *RelayError whose message comes from describe
// when the relay sent a structured error.
func doRelayRequest(client *http.Client, req *http.Request, provider string, describe func([]byte) string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", provider, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	message := ""
	if describe != nil {
		message = describe(body)
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return nil, &RelayError{Provider: provider, StatusCode: resp.StatusCode, Message: message}
}

// LogProvider records emails in the log instead of sending them.
type LogProvider struct {
	logger *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProvider{logger: logger}
}

func (p *LogProvider) SendEmail(_ context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	p.logger.Info("email not sent, no provider configured", "to", email.To, "subject", email.Subject)
	return nil
}

func (p *LogProvider) ValidateAPIKey(context.Context) error {
	return nil
}
