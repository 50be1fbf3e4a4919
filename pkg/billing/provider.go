package billing

import (
	"net/http"
)

// Provider is the generic interface that any payment backend crediting the ledger
// must implement. Each provider owns one webhook route.
type Provider interface {
	// Name returns the provider name (e.g., "revenuecat", "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing and ledger writes internally.
	WebhookHandler() http.Handler
}
