package revenuecat

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/billing"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// webhookPayload represents the subset of the RevenueCat webhook payload the ledger needs
type webhookPayload struct {
	Event struct {
		ID            string `json:"id"`
		Type          string `json:"type"`
		AppUserID     string `json:"app_user_id"`
		ProductID     string `json:"product_id"`
		TransactionID string `json:"transaction_id"`
		Store         string `json:"store"`
		TimestampMs   int64  `json:"event_timestamp_ms"`
	} `json:"event"`
}

// eventKind enumerates how an event type is handled
type eventKind int

const (
	eventUnrecognized eventKind = iota
	eventTest
	eventPurchase
)

func classifyEvent(eventType string) eventKind {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case "TEST":
		return eventTest
	case "INITIAL_PURCHASE", "NON_RENEWING_PURCHASE", "RENEWAL":
		return eventPurchase
	default:
		return eventUnrecognized
	}
}

type webhookResponse struct {
	Received  bool   `json:"received,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleWebhook processes incoming RevenueCat webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		_ = internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			_ = internal.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			_ = internal.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	if len(p.secret) == 0 {
		p.logger.Error("revenuecat webhook rejected: no webhook secret configured")
		p.metrics.RecordWebhookError(providerName, "not_configured")
		_ = internal.WriteError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}

	if !p.verifyRequest(extractTokenOrSignature(r), body) {
		p.logger.Warn("revenuecat webhook authorization rejected")
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		_ = internal.WriteError(w, http.StatusUnauthorized, billing.ErrInvalidWebhookSignature.Error())
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		_ = internal.WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("%v: %v", billing.ErrInvalidWebhookPayload, err))
		return
	}

	eventType := strings.TrimSpace(payload.Event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	resp, status := p.dispatch(r.Context(), &payload)
	_ = internal.WriteJSON(w, http.StatusOK, resp)

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// dispatch routes a parsed event and returns the response plus a metrics status
func (p *Provider) dispatch(ctx context.Context, payload *webhookPayload) (webhookResponse, string) {
	switch classifyEvent(payload.Event.Type) {
	case eventTest:
		return webhookResponse{Received: true}, "success"
	case eventPurchase:
		receipt, err := p.creditPurchase(ctx, payload)
		if err != nil {
			return webhookResponse{Error: err.Error()}, "error"
		}
		if receipt.Result == ledger.WriteDuplicate {
			return webhookResponse{Received: true, Duplicate: true}, "duplicate"
		}
		return webhookResponse{Received: true}, "success"
	default:
		p.logger.Warn("unhandled revenuecat event type",
			ledger.F("event_id", payload.Event.ID),
			ledger.F("event_type", payload.Event.Type),
		)
		return webhookResponse{Error: fmt.Sprintf("Unhandled event type: %s", payload.Event.Type)}, "ignored"
	}
}

// creditPurchase credits the purchaser with the credits the product maps to.
// The store transaction ID is the deduplication reference.
func (p *Provider) creditPurchase(ctx context.Context, payload *webhookPayload) (*ledger.Receipt, error) {
	event := payload.Event

	credits, known := p.CreditsForProduct(event.ProductID)
	if !known {
		p.logger.Warn("purchase of unmapped product credits nothing",
			ledger.F("product_id", event.ProductID),
			ledger.F("transaction_id", event.TransactionID),
		)
	}

	receipt, err := p.writer.Credit(ctx, ledger.CreditRequest{
		UserID:     event.AppUserID,
		Creditor:   ledger.CreditorRevenueCat,
		CreditorID: event.TransactionID,
		Quantity:   credits,
	})
	if err != nil {
		p.logger.Warn("revenuecat purchase not credited",
			ledger.F("event_id", event.ID),
			ledger.F("app_user_id", event.AppUserID),
			ledger.F("error", err.Error()),
		)
		p.metrics.RecordLedgerWrite(providerName, "error", credits)
		p.metrics.RecordWebhookError(providerName, "ledger_error")
		return nil, err
	}
	p.metrics.RecordLedgerWrite(providerName, receipt.Result.String(), credits)

	if receipt.Result == ledger.WriteInserted {
		p.notify(ctx, payload, receipt)
	}
	return receipt, nil
}

func (p *Provider) notify(ctx context.Context, payload *webhookPayload, receipt *ledger.Receipt) {
	if p.config.WebhookCallback == nil {
		return
	}

	err := p.config.WebhookCallback(ctx, billing.WebhookEvent{
		UserID:         receipt.Entry.UserID,
		Credits:        receipt.Entry.Credits,
		EntryID:        receipt.Entry.ID,
		Provider:       providerName,
		EventType:      payload.Event.Type,
		Reference:      receipt.Entry.CreditorID,
		EventTimestamp: parseEventTimestamp(payload.Event.TimestampMs),
		Metadata: map[string]interface{}{
			"product_id": payload.Event.ProductID,
			"store":      payload.Event.Store,
		},
	})
	if err != nil {
		p.logger.Warn("webhook callback failed",
			ledger.F("provider", providerName),
			ledger.F("user_id", receipt.Entry.UserID),
			ledger.F("error", err.Error()),
		)
	}
}

// extractTokenOrSignature extracts the authentication token or signature from the request
func extractTokenOrSignature(r *http.Request) string {
	if token := internal.BearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-RevenueCat-Signature"))
}

// verifyRequest verifies the webhook request token or signature
func (p *Provider) verifyRequest(tokenOrSig string, body []byte) bool {
	if len(p.secret) == 0 {
		return false
	}
	if strings.TrimSpace(tokenOrSig) == "" {
		return false
	}

	// Primary: token match (RevenueCat authorization header)
	if internal.SecureCompare(tokenOrSig, string(p.secret)) {
		return true
	}

	if !p.acceptHMAC {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(tokenOrSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}

// parseEventTimestamp converts milliseconds since epoch, falling back to now
func parseEventTimestamp(timestampMs int64) time.Time {
	if timestampMs <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(timestampMs).UTC()
}
