// Package gin provides Gin middleware that gates routes on a user's credit balance,
// and mounts the papermatch functions on a Gin engine.
package gin

import (
	"errors"
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	httpmw "github.com/papermatch/papermatch-functions/middleware/http"
	"github.com/papermatch/papermatch-functions/pkg/functions"
)

// BalanceKey is the Gin context key the gated balance is stored under
const BalanceKey = "papermatch.balance"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Ledger is read for the caller's balance (required)
	Ledger httpmw.BalanceReader

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// MinCredits is the balance a request needs to pass
	// Default: 1
	MinCredits int64

	// OnInsufficientCredits is called when the balance is below MinCredits
	// If nil, responds 402 JSON with the balance
	OnInsufficientCredits func(c *gongin.Context, balance int64)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when the ledger cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that rejects callers without enough credits
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("papermatch/gin: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("papermatch/gin: Config.GetUserID is required")
	}
	if cfg.MinCredits <= 0 {
		cfg.MinCredits = 1
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		balance, err := httpmw.Check(c.Request.Context(), cfg.Ledger, userID, cfg.MinCredits)
		if err != nil {
			if errors.Is(err, httpmw.ErrInsufficientCredits) {
				c.Header(httpmw.BalanceHeader, strconv.FormatInt(balance, 10))
				if cfg.OnInsufficientCredits != nil {
					cfg.OnInsufficientCredits(c, balance)
				} else {
					defaultInsufficientCredits(c, balance)
				}
			} else if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c)
			}
			c.Abort()
			return
		}

		c.Header(httpmw.BalanceHeader, strconv.FormatInt(balance, 10))
		c.Set(BalanceKey, balance)
		c.Next()
	}
}

// Mount serves the functions router from a Gin engine, keeping the
// /functions/v1 paths and /healthz
func Mount(r gongin.IRoutes, router http.Handler) {
	h := gongin.WrapH(router)
	r.Any(functions.BasePath+"/*function", h)
	r.GET(functions.HealthPath, h)
}

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultInsufficientCredits(c *gongin.Context, balance int64) {
	c.JSON(http.StatusPaymentRequired, gongin.H{
		"error":   "Insufficient credits",
		"balance": balance,
	})
}

func defaultError(c *gongin.Context) {
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// set by an auth middleware via c.Set(key, userID)
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
