// Package fiber provides Fiber middleware that gates routes on a user's credit
// balance, and mounts the papermatch functions on a Fiber app.
package fiber

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	httpmw "github.com/papermatch/papermatch-functions/middleware/http"
	"github.com/papermatch/papermatch-functions/pkg/functions"
)

// BalanceKey is the Locals key the gated balance is stored under
const BalanceKey = "papermatch.balance"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnInsufficientCredits func(c *fiber.Ctx, balance int64) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when the ledger cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that rejects callers without enough credits
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("papermatch/fiber: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("papermatch/fiber: Config.GetUserID is required")
	}
	if cfg.MinCredits <= 0 {
		cfg.MinCredits = 1
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		// Fiber uses fasthttp; the request context.Context lives in UserContext
		balance, err := httpmw.Check(c.UserContext(), cfg.Ledger, userID, cfg.MinCredits)
		if errors.Is(err, httpmw.ErrInsufficientCredits) {
			c.Set(httpmw.BalanceHeader, strconv.FormatInt(balance, 10))
			if cfg.OnInsufficientCredits != nil {
				return cfg.OnInsufficientCredits(c, balance)
			}
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":   "Insufficient credits",
				"balance": balance,
			})
		}
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		c.Set(httpmw.BalanceHeader, strconv.FormatInt(balance, 10))
		c.Locals(BalanceKey, balance)
		return c.Next()
	}
}

// Mount serves the functions router from a Fiber app through the net/http
// adaptor, keeping the /functions/v1 paths and /healthz
func Mount(app fiber.Router, router http.Handler) {
	h := adaptor.HTTPHandler(router)
	app.All(functions.BasePath+"/*", h)
	app.Get(functions.HealthPath, h)
}

// FromContext returns a UserIDExtractor that gets user ID from Fiber Locals
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
