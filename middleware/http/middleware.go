// Package http provides net/http middleware that gates handlers on a user's
// credit balance, and the shared checks the framework adapters build on.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// BalanceHeader carries the caller's balance on gated responses
const BalanceHeader = "X-Credits-Balance"

// ErrInsufficientCredits is returned by Check when the balance is below the minimum
var ErrInsufficientCredits = errors.New("insufficient credits")

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// BalanceReader is the part of ledger.Writer the gate needs
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

// Config holds middleware configuration
type Config struct {
	// Ledger is read for the caller's balance (required)
	Ledger BalanceReader

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// MinCredits is the balance a request needs to pass
	// Default: 1
	MinCredits int64

	// OnInsufficientCredits is called when the balance is below MinCredits
	// If nil, returns 402 Payment Required
	OnInsufficientCredits func(w http.ResponseWriter, r *http.Request, balance int64)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the ledger cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Check returns the balance of userID and ErrInsufficientCredits when it is below
// min. Framework adapters share it.
func Check(ctx context.Context, reader BalanceReader, userID string, min int64) (int64, error) {
	balance, err := reader.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	if balance < min {
		return balance, ErrInsufficientCredits
	}
	return balance, nil
}

// Validate panics on missing required fields and fills defaults
func (c *Config) Validate(pkg string) {
	if c.Ledger == nil {
		panic(pkg + ": Config.Ledger is required")
	}
	if c.GetUserID == nil {
		panic(pkg + ": Config.GetUserID is required")
	}
	if c.MinCredits <= 0 {
		c.MinCredits = 1
	}
}

// Middleware creates an HTTP middleware that rejects callers without enough credits
func Middleware(config Config) func(http.Handler) http.Handler {
	config.Validate("papermatch/http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					_ = internal.WriteError(w, http.StatusUnauthorized, "unauthorized")
				}
				return
			}

			balance, err := Check(r.Context(), config.Ledger, userID, config.MinCredits)
			switch {
			case errors.Is(err, ErrInsufficientCredits):
				w.Header().Set(BalanceHeader, strconv.FormatInt(balance, 10))
				if config.OnInsufficientCredits != nil {
					config.OnInsufficientCredits(w, r, balance)
				} else {
					_ = internal.WriteError(w, http.StatusPaymentRequired, ErrInsufficientCredits.Error())
				}
				return
			case err != nil:
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					_ = internal.WriteError(w, http.StatusInternalServerError, "internal server error")
				}
				return
			}

			w.Header().Set(BalanceHeader, strconv.FormatInt(balance, 10))
			next.ServeHTTP(w, r.WithContext(WithBalance(r.Context(), balance)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates on credits (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "papermatch:userID"

	// BalanceKey is the context key for the balance seen by the gate
	BalanceKey ContextKey = "papermatch:balance"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithBalance adds the gated balance to request context
func WithBalance(ctx context.Context, balance int64) context.Context {
	return context.WithValue(ctx, BalanceKey, balance)
}

// BalanceFromContext returns the balance recorded by the gate
func BalanceFromContext(ctx context.Context) (int64, bool) {
	balance, ok := ctx.Value(BalanceKey).(int64)
	return balance, ok
}

var _ BalanceReader = (*ledger.Writer)(nil)
