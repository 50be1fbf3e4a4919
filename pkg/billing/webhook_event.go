package billing

import (
	"context"
	"time"
)

// WebhookEvent contains information about a credited purchase.
// It is passed to the WebhookCallback after the ledger entry has been written.
type WebhookEvent struct {
	// UserID is the internal user identifier
	UserID string

	// Credits is the number of credits added to the ledger
	Credits int64

	// EntryID is the ID of the ledger entry that was inserted
	EntryID string

	// Provider is the billing provider name ("stripe", "revenuecat")
	Provider string

	// EventType is the provider-specific event type
	// Stripe: "checkout.session.completed"
	// RevenueCat: "INITIAL_PURCHASE", "NON_RENEWING_PURCHASE", "RENEWAL"
	EventType string

	// Reference is the external reference the entry is deduplicated on
	// (checkout session ID, store transaction ID)
	Reference string

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time

	// Metadata contains provider-specific additional data
	// Stripe: session metadata
	// RevenueCat: product_id from the webhook payload
	Metadata map[string]interface{}
}

// WebhookCallback observes credited purchases
type WebhookCallback func(ctx context.Context, event WebhookEvent) error
