package email

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultMailgunBaseURL = "https://api.mailgun.net/v3"

// MailgunProvider sends through a Mailgun sending domain. EU accounts set
// EMAIL_BASE_URL to the EU API host.
type MailgunProvider struct {
	apiKey     string
	from       string
	domain     string
	baseURL    string
	httpClient *http.Client
}

func NewMailgunProvider(apiKey, domain, from string, opts ...httpProviderOption) *MailgunProvider {
	resolved := resolveHTTPOptions(defaultMailgunBaseURL, opts)
	return &MailgunProvider{
		apiKey:     apiKey,
		domain:     domain,
		from:       from,
		baseURL:    resolved.baseURL,
		httpClient: resolved.httpClient,
	}
}

func describeMailgunError(body []byte) string {
	var result struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &result) != nil {
		return ""
	}
	return result.Message
}

func (m *MailgunProvider) SendEmail(ctx context.Context, email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}

	form := url.Values{
		"from":    {m.from},
		"to":      {email.To},
		"subject": {email.Subject},
	}
	for key, value := range map[string]string{"text": email.Text, "html": email.HTML, "o:tag": email.Tag} {
		if value != "" {
			form.Set(key, value)
		}
	}

	req, err := m.newRequest(ctx, http.MethodPost, "/"+url.PathEscape(m.domain)+"/messages", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = doRelayRequest(m.httpClient, req, "mailgun", describeMailgunError)
	return err
}

func (m *MailgunProvider) ValidateAPIKey(ctx context.Context) error {
	req, err := m.newRequest(ctx, http.MethodGet, "/domains/"+url.PathEscape(m.domain), nil)
	if err != nil {
		return err
	}
	if _, err := doRelayRequest(m.httpClient, req, "mailgun", describeMailgunError); err != nil {
		return fmt.Errorf("invalid mailgun API key: %w", err)
	}
	return nil
}

func (m *MailgunProvider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailgun request: %w", err)
	}
	req.SetBasicAuth("api", m.apiKey)
	return req, nil
}
