// Package stripe credits the ledger from Stripe Checkout and opens the hosted
// checkout sessions that lead there.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/billing"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	checkoutEndpoint         = "/checkout/sessions"
)

// SessionAPI is the subset of the Stripe Checkout Sessions API the provider uses.
// *stripe.Client's V1CheckoutSessions satisfies it.
type SessionAPI interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error)
}

// CallerVerifier resolves a bearer token to the user it was issued to
type CallerVerifier interface {
	VerifyCaller(ctx context.Context, token string) (string, error)
}

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Writer, Metrics, Logger, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// PriceID is the credit pack price every checkout line item uses
	PriceID string

	// SiteURL is the redirect origin used when neither the body nor the Origin
	// header names one
	SiteURL string

	// Sessions overrides the Checkout Sessions API (tests, proxies).
	// If nil, a client built from StripeAPIKey is used.
	Sessions SessionAPI

	// CallerVerifier, when set, requires checkout callers to present a bearer token
	// belonging to the user they are buying credits for.
	CallerVerifier CallerVerifier
}

var _ billing.Provider = (*Provider)(nil)

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	writer         *ledger.Writer
	config         Config
	rateLimiter    *internal.RateLimiter
	webhookSecret  []byte
	priceID        string
	siteURL        string
	sessions       SessionAPI
	callerVerifier CallerVerifier
	metrics        billing.Metrics
	logger         ledger.Logger
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Writer == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	sessions := config.Sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(config.StripeAPIKey)
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}

		httpClient := config.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: defaultHTTPTimeout}
		}
		backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{HTTPClient: httpClient})
		sessions = stripe.NewClient(apiKey, stripe.WithBackends(backends)).V1CheckoutSessions
	}

	limiter := internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow)

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &ledger.NoopLogger{}
	}

	return &Provider{
		writer:         config.Writer,
		config:         config,
		rateLimiter:    limiter,
		webhookSecret:  []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		priceID:        strings.TrimSpace(config.PriceID),
		siteURL:        strings.TrimRight(strings.TrimSpace(config.SiteURL), "/"),
		sessions:       sessions,
		callerVerifier: config.CallerVerifier,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}

// CheckoutHandler returns the HTTP handler that opens checkout sessions
func (p *Provider) CheckoutHandler() http.Handler {
	return http.HandlerFunc(p.handleCheckout)
}
