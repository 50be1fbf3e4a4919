// Package onesignal forwards a message to a user's devices through the OneSignal
// REST API, addressing them by external user ID.
package onesignal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papermatch/papermatch-functions/pkg/billing"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

const (
	providerName          = "onesignal"
	defaultBaseURL        = "https://onesignal.com/api/v1"
	notificationsEndpoint = "/notifications"
	defaultHTTPTimeout    = 10 * time.Second
	maxResponseBytes      = 1 << 20
)

var (
	// ErrNotConfigured is returned when the app ID or REST API key is missing
	ErrNotConfigured = errors.New("onesignal not configured")

	// ErrMissingUserID is returned when a notification names no recipient
	ErrMissingUserID = errors.New("missing user_id")

	// ErrMissingContents is returned when a notification has no body text
	ErrMissingContents = errors.New("missing contents")

	// ErrAPIError is returned when OneSignal answers with a non-2xx status
	ErrAPIError = errors.New("onesignal API error")
)

// Config holds OneSignal client configuration
type Config struct {
	AppID      string
	RESTAPIKey string

	// BaseURL overrides the API root (default: https://onesignal.com/api/v1)
	BaseURL string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	Metrics billing.Metrics
	Logger  ledger.Logger
}

// Client submits notifications to OneSignal
type Client struct {
	appID      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    billing.Metrics
	logger     ledger.Logger
}

// notification is the create-notification request body
type notification struct {
	AppID                  string            `json:"app_id"`
	IncludeExternalUserIDs []string          `json:"include_external_user_ids"`
	Contents               map[string]string `json:"contents"`
}

// NewClient creates a new OneSignal client
func NewClient(config Config) (*Client, error) {
	appID := strings.TrimSpace(config.AppID)
	apiKey := strings.TrimSpace(config.RESTAPIKey)
	if appID == "" || apiKey == "" {
		return nil, ErrNotConfigured
	}

	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &ledger.NoopLogger{}
	}

	return &Client{
		appID:      appID,
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// Send submits a notification with contents as its English body, addressed to the
// devices registered under userID. It returns OneSignal's response body verbatim.
func (c *Client) Send(ctx context.Context, userID, contents string) (json.RawMessage, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if contents == "" {
		return nil, ErrMissingContents
	}

	payload, err := json.Marshal(notification{
		AppID:                  c.appID,
		IncludeExternalUserIDs: []string{userID},
		Contents:               map[string]string{"en": contents},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+notificationsEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+c.apiKey)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	res, err := c.httpClient.Do(req)
	c.metrics.RecordAPICallDuration(providerName, notificationsEndpoint, time.Since(startTime))
	if err != nil {
		c.metrics.RecordAPICall(providerName, notificationsEndpoint, "error")
		c.metrics.RecordNotification(providerName, "error")
		return nil, fmt.Errorf("failed to send notification: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		c.metrics.RecordNotification(providerName, "error")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.metrics.RecordAPICall(providerName, notificationsEndpoint, fmt.Sprintf("%d", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.metrics.RecordNotification(providerName, "error")
		c.logger.Warn("onesignal rejected notification",
			ledger.F("user_id", userID),
			ledger.F("status", res.StatusCode),
		)
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrAPIError, res.StatusCode, string(body))
	}
	if !json.Valid(body) {
		c.metrics.RecordNotification(providerName, "error")
		return nil, fmt.Errorf("%w: invalid JSON response", ErrAPIError)
	}

	c.metrics.RecordNotification(providerName, "success")
	c.logger.Info("notification sent", ledger.F("user_id", userID))
	return json.RawMessage(body), nil
}

// CreditsAdded returns a webhook callback that tells the purchaser their credits
// have arrived. Zero-credit entries send nothing.
func (c *Client) CreditsAdded() billing.WebhookCallback {
	return func(ctx context.Context, event billing.WebhookEvent) error {
		if event.Credits <= 0 {
			return nil
		}
		_, err := c.Send(ctx, event.UserID, creditsAddedMessage(event.Credits))
		return err
	}
}

func creditsAddedMessage(credits int64) string {
	if credits == 1 {
		return "1 credit was added to your account"
	}
	return fmt.Sprintf("%d credits were added to your account", credits)
}
