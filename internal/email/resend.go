// Package email provides Resend email provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	resend "github.com/resend/resend-go/v3"
)

const defaultResendBaseURL = "https://api.resend.com"

// ResendProvider implements the Provider interface for Resend.
type ResendProvider struct {
	from   string
	client *resend.Client
}

// NewResendProvider creates a new Resend provider. The SDK flattens API
// errors into strings, so the client records the response status of each
// send to classify rejections.
func NewResendProvider(apiKey, from string, opts ...httpProviderOption) *ResendProvider {
	resolved := resolveHTTPOptions(defaultResendBaseURL, opts)

	httpClient := *resolved.httpClient
	httpClient.Transport = statusCapturingTransport{base: httpClient.Transport}

	client := resend.NewCustomClient(&httpClient, strings.TrimSpace(apiKey))
	if baseURL, err := url.Parse(resolved.baseURL + "/"); err == nil {
		client.BaseURL = baseURL
	}
	return &ResendProvider{
		from:   from,
		client: client,
	}
}

type responseStatusKey struct{}

// statusCapturingTransport stores the response status in the *int carried by
// the request context, if any.
type statusCapturingTransport struct {
	base http.RoundTripper
}

func (s statusCapturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := s.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err == nil && resp != nil {
		if status, ok := req.Context().Value(responseStatusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}

// SendEmail sends an email via the Resend API.
func (r *ResendProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	if r.client == nil {
		return fmt.Errorf("resend client not configured")
	}

	params := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{email.To},
		Subject: email.Subject,
	}
	if email.HTML != "" {
		params.Html = email.HTML
	}
	if email.Text != "" {
		params.Text = email.Text
	}
	if email.Tag != "" {
		params.Tags = []resend.Tag{{Name: "category", Value: email.Tag}}
	}
	if params.Html == "" && params.Text == "" {
		return fmt.Errorf("email body is empty")
	}

	var status int
	sent, err := r.client.Emails.SendWithContext(context.WithValue(ctx, responseStatusKey{}, &status), params)
	if err != nil {
		return resendError(status, err)
	}
	if sent == nil || sent.Id == "" {
		return fmt.Errorf("resend accepted the request without returning a message id")
	}
	return nil
}

func resendError(status int, err error) error {
	if errors.Is(err, resend.ErrRateLimit) {
		status = http.StatusTooManyRequests
	}
	if status < 300 {
		return fmt.Errorf("failed to send email via resend: %w", err)
	}
	return &RelayError{Provider: "resend", StatusCode: status, Message: err.Error()}
}

// ValidateAPIKey checks if the API key is valid.
func (r *ResendProvider) ValidateAPIKey(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("resend client not configured")
	}
	if _, err := r.client.ApiKeys.ListWithContext(ctx); err != nil {
		return fmt.Errorf("invalid API key: %w", err)
	}
	return nil
}
