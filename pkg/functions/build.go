package functions

import (
	"fmt"
	"net/http"

	"github.com/papermatch/papermatch-functions/pkg/api"
	supabaseauth "github.com/papermatch/papermatch-functions/pkg/auth/supabase"
	"github.com/papermatch/papermatch-functions/pkg/billing"
	"github.com/papermatch/papermatch-functions/pkg/billing/revenuecat"
	"github.com/papermatch/papermatch-functions/pkg/billing/stripe"
	"github.com/papermatch/papermatch-functions/pkg/config"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
	"github.com/papermatch/papermatch-functions/pkg/notify/onesignal"
)

// Deps are the process-wide collaborators shared by every function
type Deps struct {
	Writer  *ledger.Writer
	Metrics billing.Metrics
	Logger  ledger.Logger

	// HTTPClient is used for outbound provider calls; nil uses per-client defaults
	HTTPClient *http.Client

	// Overrides for tests
	StripeSessions   stripe.SessionAPI
	Verifier         stripe.CallerVerifier
	OneSignalBaseURL string
}

// Build constructs the handlers cfg enables. Functions whose keys are absent are
// skipped with a warning. When OneSignal is configured, credited purchases also push
// a "credits added" notification to the purchaser.
func Build(cfg *config.Config, deps Deps) (Handlers, error) {
	if deps.Writer == nil {
		return Handlers{}, fmt.Errorf("ledger writer is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = &billing.NoopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = &ledger.NoopLogger{}
	}

	verifier := deps.Verifier
	if verifier == nil && cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		v, err := supabaseauth.NewVerifier(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
		if err != nil {
			return Handlers{}, fmt.Errorf("failed to create caller verifier: %w", err)
		}
		verifier = v
	}
	if cfg.CheckoutRequireAuth && verifier == nil {
		return Handlers{}, fmt.Errorf("checkout authentication requires SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
	}

	h := Handlers{
		Health: deps.Writer,
		Logger: deps.Logger,
	}

	base := billing.Config{
		Writer:     deps.Writer,
		HTTPClient: deps.HTTPClient,
		Metrics:    deps.Metrics,
		Logger:     deps.Logger,
	}

	if cfg.OneSignalEnabled() {
		client, err := onesignal.NewClient(onesignal.Config{
			AppID:      cfg.OneSignalAppID,
			RESTAPIKey: cfg.OneSignalRESTAPIKey,
			BaseURL:    deps.OneSignalBaseURL,
			HTTPClient: deps.HTTPClient,
			Metrics:    deps.Metrics,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Handlers{}, fmt.Errorf("failed to create onesignal client: %w", err)
		}
		h.OneSignalNotify = onesignal.NewHandler(client)
		base.WebhookCallback = client.CreditsAdded()
	} else {
		deps.Logger.Warn("onesignal-notify disabled: ONESIGNAL_APP_ID or ONESIGNAL_REST_API_KEY not set")
	}

	if cfg.StripeEnabled() || deps.StripeSessions != nil {
		stripeCfg := stripe.Config{
			Config:              base,
			StripeAPIKey:        cfg.StripeSecretKey,
			StripeWebhookSecret: cfg.StripeWebhookSecret,
			PriceID:             cfg.StripePriceID,
			SiteURL:             cfg.SiteURL,
			Sessions:            deps.StripeSessions,
		}
		if cfg.CheckoutRequireAuth {
			stripeCfg.CallerVerifier = verifier
		}
		provider, err := stripe.NewProvider(stripeCfg)
		if err != nil {
			return Handlers{}, fmt.Errorf("failed to create stripe provider: %w", err)
		}
		h.Webhooks = append(h.Webhooks, provider)
		h.StripeCheckout = provider.CheckoutHandler()
	} else {
		deps.Logger.Warn("stripe functions disabled: STRIPE_SECRET_KEY not set")
	}

	if cfg.RevenueCatEnabled() {
		rcCfg := base
		rcCfg.WebhookSecret = cfg.RevenueCatWebhookSecret
		provider, err := revenuecat.NewProvider(revenuecat.Config{
			Config:         rcCfg,
			ProductCredits: cfg.ProductCredits(),
		})
		if err != nil {
			return Handlers{}, fmt.Errorf("failed to create revenuecat provider: %w", err)
		}
		h.Webhooks = append(h.Webhooks, provider)
	} else {
		deps.Logger.Warn("revenuecat-webhook disabled: REVENUECAT_WEBHOOK_SECRET not set")
	}

	if verifier != nil {
		credits, err := api.NewHandler(api.Config{
			Writer:    deps.Writer,
			GetUserID: api.FromBearerToken(verifier),
			Logger:    deps.Logger,
		})
		if err != nil {
			return Handlers{}, fmt.Errorf("failed to create credits handler: %w", err)
		}
		h.Credits = http.HandlerFunc(credits.GetCredits)
	}

	return h, nil
}
