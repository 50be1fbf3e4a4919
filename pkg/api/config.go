package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// Config holds configuration for the credits API handler
type Config struct {
	// Writer is the ledger the balance is read from (required)
	Writer *ledger.Writer

	// GetUserID extracts the caller's user ID from the request (required).
	// An empty result is answered with 401.
	GetUserID func(*http.Request) string

	// MaxEntries caps the history returned per request (default 100)
	MaxEntries int

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	Logger ledger.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Writer == nil {
		return fmt.Errorf("writer is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new credits API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaultMaxEntries
	}
	if config.Logger == nil {
		config.Logger = &ledger.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// TokenVerifier resolves a bearer token to the user it was issued to
type TokenVerifier interface {
	VerifyCaller(ctx context.Context, token string) (string, error)
}

// FromBearerToken returns a GetUserID function that resolves the Authorization
// bearer token through verifier. Rejected tokens yield an empty user ID.
func FromBearerToken(verifier TokenVerifier) func(*http.Request) string {
	return func(r *http.Request) string {
		token := internal.BearerToken(r)
		if token == "" {
			return ""
		}
		userID, err := verifier.VerifyCaller(r.Context(), token)
		if err != nil {
			return ""
		}
		return userID
	}
}
