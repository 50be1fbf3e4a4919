package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/billing"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// eventKind enumerates the event types the receiver acts on
type eventKind int

const (
	eventUnrecognized eventKind = iota
	eventCheckoutCompleted
)

func classifyEvent(t stripe.EventType) eventKind {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted:
		return eventCheckoutCompleted
	default:
		return eventUnrecognized
	}
}

// webhookResponse is the JSON body of every verified delivery.
// Stripe only looks at the status code, so failures after verification are
// acknowledged with 200 and surfaced in Error.
type webhookResponse struct {
	Received  bool   `json:"received,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		_ = internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if len(p.webhookSecret) == 0 {
		_ = internal.WriteError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}

	// Read and validate body (with size limit protection)
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

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), string(p.webhookSecret),
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		p.logger.Warn("stripe webhook signature rejected", ledger.F("error", err.Error()))
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		_ = internal.WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("%v: %v", billing.ErrInvalidWebhookSignature, err))
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	resp, status := p.dispatch(r.Context(), &event)
	_ = internal.WriteJSON(w, http.StatusOK, resp)

	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// dispatch routes a verified event and returns the response plus a metrics status
func (p *Provider) dispatch(ctx context.Context, event *stripe.Event) (webhookResponse, string) {
	switch classifyEvent(event.Type) {
	case eventCheckoutCompleted:
		receipt, err := p.handleCheckoutSessionCompleted(ctx, event)
		if err != nil {
			return webhookResponse{Error: err.Error()}, "error"
		}
		if receipt.Result == ledger.WriteDuplicate {
			return webhookResponse{Received: true, Duplicate: true}, "duplicate"
		}
		return webhookResponse{Received: true}, "success"
	default:
		p.logger.Warn("unhandled stripe event type",
			ledger.F("event_id", event.ID),
			ledger.F("event_type", string(event.Type)),
		)
		return webhookResponse{Error: fmt.Sprintf("Unhandled event type: %s", event.Type)}, "ignored"
	}
}

// handleCheckoutSessionCompleted credits the session's purchaser with the quantity
// recorded on the session itself, re-read from Stripe rather than the payload.
func (p *Provider) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) (*ledger.Receipt, error) {
	if event.Data == nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return nil, fmt.Errorf("%w: missing event data", billing.ErrInvalidWebhookPayload)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID := strings.TrimSpace(session.ClientReferenceID)
	if userID == "" {
		p.logger.Warn("checkout session completed without client_reference_id",
			ledger.F("event_id", event.ID),
			ledger.F("session_id", session.ID),
		)
		p.metrics.RecordWebhookError(providerName, "missing_client_reference")
		return nil, fmt.Errorf("%w: client_reference_id is required", billing.ErrMissingClientReference)
	}
	if session.ID == "" {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return nil, fmt.Errorf("%w: missing session id", billing.ErrInvalidWebhookPayload)
	}

	quantity, err := p.sessionQuantity(ctx, session.ID)
	if err != nil {
		p.logger.Error("failed to retrieve checkout session",
			ledger.F("session_id", session.ID),
			ledger.F("error", err.Error()),
		)
		p.metrics.RecordWebhookError(providerName, "retrieve_failed")
		return nil, err
	}

	receipt, err := p.writer.Credit(ctx, ledger.CreditRequest{
		UserID:     userID,
		Creditor:   ledger.CreditorStripe,
		CreditorID: session.ID,
		Quantity:   quantity,
	})
	if err != nil {
		p.metrics.RecordLedgerWrite(providerName, "error", quantity)
		p.metrics.RecordWebhookError(providerName, "ledger_error")
		return nil, err
	}
	p.metrics.RecordLedgerWrite(providerName, receipt.Result.String(), quantity)

	if receipt.Result == ledger.WriteInserted {
		p.notify(ctx, event, &session, receipt)
	}
	return receipt, nil
}

// sessionQuantity re-fetches the session with its line items and sums their quantities
func (p *Provider) sessionQuantity(ctx context.Context, sessionID string) (int64, error) {
	startTime := time.Now()
	endpoint := checkoutEndpoint + "/{id}"

	params := &stripe.CheckoutSessionRetrieveParams{}
	params.AddExpand("line_items")

	session, err := p.sessions.Retrieve(ctx, sessionID, params)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return 0, fmt.Errorf("%w: retrieve session %s: %v", billing.ErrProviderAPIError, sessionID, err)
	}
	p.metrics.RecordAPICall(providerName, endpoint, "success")

	return lineItemQuantity(session), nil
}

// lineItemQuantity sums line-item quantities; missing items count as zero
func lineItemQuantity(session *stripe.CheckoutSession) int64 {
	if session == nil || session.LineItems == nil {
		return 0
	}
	return lo.SumBy(session.LineItems.Data, func(item *stripe.LineItem) int64 {
		if item == nil || item.Quantity < 0 {
			return 0
		}
		return item.Quantity
	})
}

func (p *Provider) notify(ctx context.Context, event *stripe.Event, session *stripe.CheckoutSession, receipt *ledger.Receipt) {
	if p.config.WebhookCallback == nil {
		return
	}

	metadata := lo.MapValues(session.Metadata, func(v string, _ string) interface{} { return v })
	err := p.config.WebhookCallback(ctx, billing.WebhookEvent{
		UserID:         receipt.Entry.UserID,
		Credits:        receipt.Entry.Credits,
		EntryID:        receipt.Entry.ID,
		Provider:       providerName,
		EventType:      string(event.Type),
		Reference:      session.ID,
		EventTimestamp: time.Unix(event.Created, 0).UTC(),
		Metadata:       metadata,
	})
	if err != nil {
		p.logger.Warn("webhook callback failed",
			ledger.F("provider", providerName),
			ledger.F("user_id", receipt.Entry.UserID),
			ledger.F("error", err.Error()),
		)
	}
}
