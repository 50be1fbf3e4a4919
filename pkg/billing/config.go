package billing

import (
	"net/http"

	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Writer is the ledger writer credited by webhook handlers
	Writer *ledger.Writer

	// WebhookSecret is used to verify incoming webhook requests (Stripe signing
	// secret, RevenueCat Bearer token). Without it every webhook request is rejected.
	WebhookSecret string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// Logger receives anomalies that are acknowledged to the provider with 200.
	// If nil, a NoopLogger is used.
	Logger ledger.Logger

	// WebhookCallback is invoked after a credit entry has been written.
	// It is not invoked for duplicates. Errors are logged and never change the response.
	WebhookCallback WebhookCallback
}
