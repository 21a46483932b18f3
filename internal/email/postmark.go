package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const defaultPostmarkBaseURL = "https://api.postmarkapp.com"

// PostmarkProvider sends through Postmark's transactional message stream.
type PostmarkProvider struct {
	apiKey     string
	from       string
	baseURL    string
	httpClient *http.Client
}

func NewPostmarkProvider(apiKey, from string, opts ...httpProviderOption) *PostmarkProvider {
	resolved := resolveHTTPOptions(defaultPostmarkBaseURL, opts)
	return &PostmarkProvider{
		apiKey:     apiKey,
		from:       from,
		baseURL:    resolved.baseURL,
		httpClient: resolved.httpClient,
	}
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	TextBody      string `json:"TextBody,omitempty"`
	HtmlBody      string `json:"HtmlBody,omitempty"`
	Tag           string `json:"Tag,omitempty"`
	MessageStream string `json:"MessageStream"`
	TrackOpens    bool   `json:"TrackOpens"`
}

type postmarkResult struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

func describePostmarkError(body []byte) string {
	var result postmarkResult
	if json.Unmarshal(body, &result) != nil || result.ErrorCode == 0 {
		return ""
	}
	return fmt.Sprintf("error code %d: %s", result.ErrorCode, result.Message)
}

func (p *PostmarkProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}

	payload, err := json.Marshal(postmarkEmail{
		From:          p.from,
		To:            email.To,
		Subject:       email.Subject,
		TextBody:      email.Text,
		HtmlBody:      email.HTML,
		Tag:           email.Tag,
		MessageStream: "outbound",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal postmark message: %w", err)
	}

	req, err := p.newRequest(ctx, http.MethodPost, "/email", payload)
	if err != nil {
		return err
	}
	body, err := doRelayRequest(p.httpClient, req, "postmark", describePostmarkError)
	if err != nil {
		return err
	}

	// Postmark can answer 200 and still refuse the message.
	var result postmarkResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse postmark response: %w", err)
	}
	if result.ErrorCode != 0 {
		return &RelayError{Provider: "postmark", StatusCode: http.StatusUnprocessableEntity, Message: describePostmarkError(body)}
	}
	return nil
}

func (p *PostmarkProvider) ValidateAPIKey(ctx context.Context) error {
	req, err := p.newRequest(ctx, http.MethodGet, "/server", nil)
	if err != nil {
		return err
	}
	if _, err := doRelayRequest(p.httpClient, req, "postmark", describePostmarkError); err != nil {
		return fmt.Errorf("invalid postmark server token: %w", err)
	}
	return nil
}

func (p *PostmarkProvider) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create postmark request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
