package observability

import (
	"net/http"
	"strconv"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outbound hosts that receive sentry-trace and baggage headers.
var tracePropagationTargets = []string{
	"api.stripe.com",
	"api.resend.com",
	"api.postmarkapp.com",
	"api.mailgun.net",
	"api.eu.mailgun.net",
}

var outboundRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "momoshop_outbound_request_duration_seconds",
	Help:    "Duration of outbound HTTP requests to payment and mail providers.",
	Buckets: prometheus.DefBuckets,
}, []string{"host", "code"})

type meteredRoundTripper struct {
	base http.RoundTripper
}

func (m meteredRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := m.base.RoundTrip(req)
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	outboundRequestDuration.WithLabelValues(req.URL.Hostname(), code).Observe(time.Since(start).Seconds())
	return resp, err
}

func WrapRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return sentryhttpclient.NewSentryRoundTripper(
		meteredRoundTripper{base: base},
		sentryhttpclient.WithTracePropagationTargets(tracePropagationTargets),
	)
}

// NewHTTPClient returns a client whose requests are traced and timed.
func NewHTTPClient(timeout time.Duration) *http.Client {
	client := &http.Client{
		Transport: WrapRoundTripper(http.DefaultTransport),
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}
