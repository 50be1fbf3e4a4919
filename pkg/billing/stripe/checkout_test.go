package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stripe/stripe-go/v83"
)

func postCheckout(env *testEnv, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/stripe-checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	env.provider.CheckoutHandler().ServeHTTP(w, req)
	return w
}

func assertCORS(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected permissive CORS origin, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "authorization") {
		t.Errorf("Expected CORS allow-headers, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Expected CORS allow-methods, got %q", got)
	}
}

func TestCheckout_PapermatchSixPack(t *testing.T) {
	env := newTestEnv(t)

	w := postCheckout(env, `{"id":"u1","quantity":6,"origin":"https://papermat.ch"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	assertCORS(t, w)

	body := decodeBody(t, w)
	rawURL, _ := body["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host != "checkout.stripe.com" {
		t.Errorf("Expected a checkout.stripe.com URL, got %q", rawURL)
	}

	if len(env.sessions.created) != 1 {
		t.Fatalf("Expected one session, got %d", len(env.sessions.created))
	}
	params := env.sessions.created[0]
	if *params.Mode != string(stripe.CheckoutSessionModePayment) {
		t.Errorf("Expected payment mode, got %s", *params.Mode)
	}
	if *params.ClientReferenceID != "u1" {
		t.Errorf("Expected client reference u1, got %s", *params.ClientReferenceID)
	}
	if *params.SuccessURL != "https://papermat.ch/checkout/success" {
		t.Errorf("Unexpected success URL %s", *params.SuccessURL)
	}
	if *params.CancelURL != "https://papermat.ch/checkout/cancel" {
		t.Errorf("Unexpected cancel URL %s", *params.CancelURL)
	}
	if len(params.LineItems) != 1 || *params.LineItems[0].Price != testPriceID || *params.LineItems[0].Quantity != 6 {
		t.Errorf("Unexpected line items %+v", params.LineItems)
	}
}

func TestCheckout_QuantityDefaultsToOne(t *testing.T) {
	bodies := map[string]string{
		"zero":     `{"id":"u1","quantity":0,"origin":"https://papermat.ch"}`,
		"missing":  `{"id":"u1","origin":"https://papermat.ch"}`,
		"negative": `{"id":"u1","quantity":-2,"origin":"https://papermat.ch"}`,
		"invalid":  `{"id":"u1","quantity":"lots","origin":"https://papermat.ch"}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			w := postCheckout(env, body)
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if q := *env.sessions.created[0].LineItems[0].Quantity; q != 1 {
				t.Errorf("Expected quantity 1, got %d", q)
			}
		})
	}
}

func TestCheckout_MissingID(t *testing.T) {
	env := newTestEnv(t)

	w := postCheckout(env, `{"quantity":6,"origin":"https://papermat.ch"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	assertCORS(t, w)
	if body := decodeBody(t, w); body["error"] == nil {
		t.Errorf("Expected error body, got %v", body)
	}
	if len(env.sessions.created) != 0 {
		t.Error("No session may be created without an id")
	}
}

func TestCheckout_Preflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/stripe-checkout", http.NoBody)
	w := httptest.NewRecorder()
	env.provider.CheckoutHandler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("Expected empty body, got %q", w.Body.String())
	}
	assertCORS(t, w)
}

func TestCheckout_CreateFailure(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.createErr = errors.New("No such price: 'price_sixpack'")

	w := postCheckout(env, `{"id":"u1","quantity":6,"origin":"https://papermat.ch"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if msg, _ := body["error"].(string); !strings.Contains(msg, "No such price") {
		t.Errorf("Expected provider error message, got %v", body)
	}
	if len(env.sessions.created) != 1 {
		t.Errorf("Creation must not be retried, got %d attempts", len(env.sessions.created))
	}
}

func TestCheckout_OriginFallback(t *testing.T) {
	t.Run("origin header", func(t *testing.T) {
		env := newTestEnv(t)
		w := postCheckout(env, `{"id":"u1"}`, func(r *http.Request) {
			r.Header.Set("Origin", "https://app.papermat.ch/")
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if got := *env.sessions.created[0].SuccessURL; got != "https://app.papermat.ch/checkout/success" {
			t.Errorf("Unexpected success URL %s", got)
		}
	})

	t.Run("site url", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.SiteURL = "https://papermat.ch" })
		w := postCheckout(env, `{"id":"u1"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if got := *env.sessions.created[0].CancelURL; got != "https://papermat.ch/checkout/cancel" {
			t.Errorf("Unexpected cancel URL %s", got)
		}
	})

	t.Run("none", func(t *testing.T) {
		env := newTestEnv(t)
		w := postCheckout(env, `{"id":"u1"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})
}

func TestCheckout_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{"", "not json"} {
		if w := postCheckout(env, body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

// stubVerifier maps tokens to users
type stubVerifier map[string]string

func (s stubVerifier) VerifyCaller(_ context.Context, token string) (string, error) {
	if uid, ok := s[token]; ok {
		return uid, nil
	}
	return "", errors.New("invalid token")
}

func TestCheckout_CallerVerification(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.CallerVerifier = stubVerifier{"token-u1": "u1", "token-u2": "u2"}
	})
	body := `{"id":"u1","quantity":6,"origin":"https://papermat.ch"}`

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"own token", "Bearer token-u1", http.StatusOK},
		{"other user's token", "Bearer token-u2", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"no token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postCheckout(env, body, func(r *http.Request) {
				if tt.header != "" {
					r.Header.Set("Authorization", tt.header)
				}
			})
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}
