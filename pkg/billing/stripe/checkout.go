package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/billing"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// ErrMissingUserID is returned when a checkout request names no user
var ErrMissingUserID = errors.New("missing id")

// ErrMissingOrigin is returned when no redirect origin can be resolved
var ErrMissingOrigin = errors.New("missing origin")

// ErrCallerMismatch is returned when the authenticated caller is not the buyer
var ErrCallerMismatch = errors.New("caller does not match id")

// checkoutRequest is the stripe-checkout body. Quantity is decoded loosely since
// the app sends it as either a number or a string.
type checkoutRequest struct {
	ID       string      `json:"id"`
	Quantity interface{} `json:"quantity"`
	Origin   string      `json:"origin"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// handleCheckout opens a hosted checkout session for the requested credit pack
func (p *Provider) handleCheckout(w http.ResponseWriter, r *http.Request) {
	internal.SetCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		_ = internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxBodyBytes)
	if err != nil {
		_ = internal.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		_ = internal.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	userID := strings.TrimSpace(req.ID)
	if userID == "" {
		_ = internal.WriteError(w, http.StatusBadRequest, ErrMissingUserID.Error())
		return
	}

	if p.callerVerifier != nil {
		caller, err := p.callerVerifier.VerifyCaller(r.Context(), internal.BearerToken(r))
		if err != nil || caller != userID {
			p.logger.Warn("checkout caller rejected", ledger.F("user_id", userID))
			_ = internal.WriteError(w, http.StatusUnauthorized, ErrCallerMismatch.Error())
			return
		}
	}

	origin := p.resolveOrigin(req.Origin, r.Header.Get("Origin"))
	if origin == "" {
		_ = internal.WriteError(w, http.StatusBadRequest, ErrMissingOrigin.Error())
		return
	}

	url, err := p.createCheckoutSession(r, userID, parseQuantity(req.Quantity), origin)
	if err != nil {
		_ = internal.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, checkoutResponse{URL: url})
}

// createCheckoutSession creates a one-time payment session and returns its URL
func (p *Provider) createCheckoutSession(r *http.Request, userID string, quantity int64, origin string) (string, error) {
	if p.priceID == "" {
		return "", fmt.Errorf("%w: price id", billing.ErrProviderNotConfigured)
	}

	startTime := time.Now()
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.priceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		SuccessURL: stripe.String(origin + "/checkout/success"),
		CancelURL:  stripe.String(origin + "/checkout/cancel"),
	}

	session, err := p.sessions.Create(r.Context(), params)
	p.metrics.RecordAPICallDuration(providerName, checkoutEndpoint, time.Since(startTime))
	if err != nil {
		p.metrics.RecordAPICall(providerName, checkoutEndpoint, "error")
		p.logger.Error("failed to create checkout session",
			ledger.F("user_id", userID),
			ledger.F("error", err.Error()),
		)
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	p.metrics.RecordAPICall(providerName, checkoutEndpoint, "success")

	p.logger.Info("checkout session created",
		ledger.F("user_id", userID),
		ledger.F("session_id", session.ID),
		ledger.F("quantity", quantity),
	)
	return session.URL, nil
}

// resolveOrigin prefers the body origin, then the Origin header, then the site URL
func (p *Provider) resolveOrigin(bodyOrigin, headerOrigin string) string {
	for _, o := range []string{bodyOrigin, headerOrigin, p.siteURL} {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			return o
		}
	}
	return ""
}

// parseQuantity returns a positive whole quantity, defaulting to 1
func parseQuantity(v interface{}) int64 {
	var q int64
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && t <= math.MaxInt32 {
			q = int64(t)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			q = n
		}
	}
	if q <= 0 {
		return 1
	}
	return q
}
