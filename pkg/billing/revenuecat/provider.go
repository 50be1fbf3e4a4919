// Package revenuecat credits the ledger from RevenueCat purchase webhooks.
package revenuecat

import (
	"net/http"
	"strings"
	"time"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/billing"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

const (
	providerName             = "revenuecat"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100

	// SixPackProductID is the six-credit pack sold in the mobile stores
	SixPackProductID = "ch.papermat.papermatch.sixpack"
)

// DefaultProductCredits returns the store products and the credits each grants
func DefaultProductCredits() map[string]int64 {
	return map[string]int64{
		SixPackProductID: 6,
	}
}

// Config extends billing.Config with RevenueCat-specific options
type Config struct {
	billing.Config

	// ProductCredits maps store product IDs to the credits a purchase grants.
	// Matching is case-insensitive. If nil, DefaultProductCredits is used.
	ProductCredits map[string]int64

	// EnableHMAC additionally accepts a base64 HMAC-SHA256 of the body keyed by
	// WebhookSecret in X-RevenueCat-Signature.
	EnableHMAC bool
}

var _ billing.Provider = (*Provider)(nil)

// Provider implements the billing.Provider interface for RevenueCat
type Provider struct {
	writer         *ledger.Writer
	config         Config
	rateLimiter    *internal.RateLimiter
	productCredits map[string]int64
	secret         []byte
	acceptHMAC     bool
	metrics        billing.Metrics
	logger         ledger.Logger
}

// NewProvider creates a new RevenueCat billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Writer == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	// Allow the secret to be provided as a Bearer token and strip the prefix
	secret := strings.TrimSpace(config.WebhookSecret)
	if strings.HasPrefix(strings.ToLower(secret), "bearer ") {
		secret = strings.TrimSpace(secret[len("bearer "):])
	}

	products := config.ProductCredits
	if products == nil {
		products = DefaultProductCredits()
	}
	productCredits := make(map[string]int64, len(products))
	for k, v := range products {
		productCredits[strings.ToLower(strings.TrimSpace(k))] = v
	}

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
		rateLimiter:    internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		productCredits: productCredits,
		secret:         []byte(secret),
		acceptHMAC:     config.EnableHMAC,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for RevenueCat webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}

// CreditsForProduct returns the credits a purchase of productID grants and whether
// the product is known
func (p *Provider) CreditsForProduct(productID string) (int64, bool) {
	credits, ok := p.productCredits[strings.ToLower(strings.TrimSpace(productID))]
	return credits, ok
}
