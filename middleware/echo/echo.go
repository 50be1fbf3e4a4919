// Package echo provides Echo middleware that gates routes on a user's credit
// balance, and mounts the papermatch functions on an Echo instance.
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	httpmw "github.com/papermatch/papermatch-functions/middleware/http"
	"github.com/papermatch/papermatch-functions/pkg/functions"
)

// BalanceKey is the Echo context key the gated balance is stored under
const BalanceKey = "papermatch.balance"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

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
	OnInsufficientCredits func(c echo.Context, balance int64) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when the ledger cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that rejects callers without enough credits
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Ledger == nil {
		panic("papermatch/echo: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("papermatch/echo: Config.GetUserID is required")
	}
	if cfg.MinCredits <= 0 {
		cfg.MinCredits = 1
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			balance, err := httpmw.Check(c.Request().Context(), cfg.Ledger, userID, cfg.MinCredits)
			if errors.Is(err, httpmw.ErrInsufficientCredits) {
				c.Response().Header().Set(httpmw.BalanceHeader, strconv.FormatInt(balance, 10))
				if cfg.OnInsufficientCredits != nil {
					return cfg.OnInsufficientCredits(c, balance)
				}
				return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
					"error":   "Insufficient credits",
					"balance": balance,
				})
			}
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			c.Response().Header().Set(httpmw.BalanceHeader, strconv.FormatInt(balance, 10))
			c.Set(BalanceKey, balance)
			return next(c)
		}
	}
}

// Mount serves the functions router from an Echo instance, keeping the
// /functions/v1 paths and /healthz
func Mount(e *echo.Echo, router http.Handler) {
	h := echo.WrapHandler(router)
	e.Any(functions.BasePath+"/*", h)
	e.GET(functions.HealthPath, h)
}

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
