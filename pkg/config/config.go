// Package config loads the process configuration once at start-up from the
// environment, an optional YAML file and optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Ledger backends
const (
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendSupabase  = "supabase"
	BackendMemory    = "memory"
)

// Config is the complete process configuration. Keys are the upper-cased
// environment variable names of the mapstructure tags.
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat   string `mapstructure:"log_format" validate:"oneof=json console"`
	SiteURL     string `mapstructure:"site_url" validate:"omitempty,url"`

	StripeSecretKey     string `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
	StripePriceID       string `mapstructure:"stripe_price_id" validate:"required_with=StripeSecretKey"`
	CheckoutRequireAuth bool   `mapstructure:"checkout_require_auth"`

	RevenueCatWebhookSecret string `mapstructure:"revenuecat_webhook_secret"`
	RevenueCatProducts      string `mapstructure:"revenuecat_products"`

	OneSignalAppID      string `mapstructure:"onesignal_app_id" validate:"required_with=OneSignalRESTAPIKey"`
	OneSignalRESTAPIKey string `mapstructure:"onesignal_rest_api_key" validate:"required_with=OneSignalAppID"`

	LedgerBackend          string `mapstructure:"ledger_backend" validate:"oneof=postgres redis firestore supabase memory"`
	DatabaseURL            string `mapstructure:"database_url" validate:"required_if=LedgerBackend postgres"`
	RedisURL               string `mapstructure:"redis_url" validate:"required_if=LedgerBackend redis"`
	FirestoreProjectID     string `mapstructure:"firestore_project_id" validate:"required_if=LedgerBackend firestore"`
	SupabaseURL            string `mapstructure:"supabase_url" validate:"required_if=LedgerBackend supabase,omitempty,url"`
	SupabaseServiceRoleKey string `mapstructure:"supabase_service_role_key" validate:"required_if=LedgerBackend supabase"`

	// LedgerBreakerThreshold consecutive store failures open the circuit; 0 disables it
	LedgerBreakerThreshold int           `mapstructure:"ledger_breaker_threshold" validate:"gte=0"`
	LedgerBreakerReset     time.Duration `mapstructure:"ledger_breaker_reset" validate:"gte=0"`
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// ConfigFile is an optional YAML file; a missing file is not an error
	ConfigFile string

	// EnvFiles are optional .env files loaded into the environment first;
	// variables already set in the environment win
	EnvFiles []string
}

var defaults = map[string]interface{}{
	"http_addr":      ":8080",
	"metrics_addr":   ":9090",
	"log_level":      "info",
	"log_format":     "json",
	"ledger_backend": BackendPostgres,

	"ledger_breaker_threshold": 5,
	"ledger_breaker_reset":     "30s",
}

// keys lists every configuration key so viper binds its environment variable
var keys = []string{
	"http_addr", "metrics_addr", "log_level", "log_format", "site_url",
	"stripe_secret_key", "stripe_webhook_secret", "stripe_price_id", "checkout_require_auth",
	"revenuecat_webhook_secret", "revenuecat_products",
	"onesignal_app_id", "onesignal_rest_api_key",
	"ledger_backend", "database_url", "redis_url", "firestore_project_id",
	"supabase_url", "supabase_service_role_key",
	"ledger_breaker_threshold", "ledger_breaker_reset",
}

// Load builds and validates the configuration
func Load(opts LoadOptions) (*Config, error) {
	if len(opts.EnvFiles) > 0 {
		if err := loadEnvFiles(opts.EnvFiles); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", k, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := ParseProductCredits(c.RevenueCatProducts); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	c.SiteURL = strings.TrimRight(strings.TrimSpace(c.SiteURL), "/")
}

// StripeEnabled reports whether the Stripe functions can be served
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// RevenueCatEnabled reports whether the RevenueCat webhook can authenticate requests
func (c *Config) RevenueCatEnabled() bool {
	return strings.TrimSpace(c.RevenueCatWebhookSecret) != ""
}

// OneSignalEnabled reports whether the notification function can be served
func (c *Config) OneSignalEnabled() bool {
	return c.OneSignalAppID != "" && c.OneSignalRESTAPIKey != ""
}

// ProductCredits returns the RevenueCat product mapping, or nil to use the defaults
func (c *Config) ProductCredits() map[string]int64 {
	products, _ := ParseProductCredits(c.RevenueCatProducts)
	return products
}

// ParseProductCredits parses "product=credits" pairs separated by commas.
// An empty string yields a nil map.
func ParseProductCredits(s string) (map[string]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	products := make(map[string]int64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		product, credits, ok := strings.Cut(pair, "=")
		product = strings.TrimSpace(product)
		if !ok || product == "" {
			return nil, fmt.Errorf("revenuecat product %q: expected product=credits", pair)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(credits), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("revenuecat product %q: credits must be a non-negative integer", product)
		}
		products[product] = n
	}
	return products, nil
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)
}
