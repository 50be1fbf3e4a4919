// Package functions mounts the papermatch HTTP functions on a single router.
package functions

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/billing"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// Route paths
const (
	BasePath            = "/functions/v1"
	StripeCheckoutPath  = "/stripe-checkout"
	OneSignalNotifyPath = "/onesignal-notify"
	CreditsPath         = "/credits"
	HealthPath          = "/healthz"
)

// WebhookPath returns the route of a provider's webhook ("/stripe-webhook")
func WebhookPath(provider string) string {
	return "/" + provider + "-webhook"
}

const healthTimeout = 3 * time.Second

// Pinger reports whether the ledger store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers are the functions to mount. Nil handlers are not routed.
type Handlers struct {
	// Webhooks are routed at BasePath + WebhookPath(provider.Name())
	Webhooks []billing.Provider

	StripeCheckout  http.Handler
	OneSignalNotify http.Handler
	Credits         http.Handler

	// Health is pinged by GET /healthz
	Health Pinger

	Logger ledger.Logger
}

// NewRouter returns a chi router serving every configured function under BasePath
func NewRouter(h Handlers) chi.Router {
	logger := h.Logger
	if logger == nil {
		logger = &ledger.NoopLogger{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	if h.Health != nil {
		r.Get(HealthPath, healthHandler(h.Health, logger))
	}

	r.Route(BasePath, func(r chi.Router) {
		for _, p := range h.Webhooks {
			r.Handle(WebhookPath(p.Name()), p.WebhookHandler())
		}
		if h.StripeCheckout != nil {
			r.Handle(StripeCheckoutPath, h.StripeCheckout)
		}
		if h.OneSignalNotify != nil {
			r.Handle(OneSignalNotifyPath, h.OneSignalNotify)
		}
		if h.Credits != nil {
			r.Method(http.MethodGet, CreditsPath, h.Credits)
		}
	})

	return r
}

func healthHandler(p Pinger, logger ledger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			logger.Error("health check failed", ledger.F("error", err))
			_ = internal.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		_ = internal.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// requestLogger logs one line per request at Debug, and at Warn for 5xx answers
func requestLogger(logger ledger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []ledger.Field{
				ledger.F("method", r.Method),
				ledger.F("path", r.URL.Path),
				ledger.F("status", ww.Status()),
				ledger.F("duration", time.Since(start).String()),
				ledger.F("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}
