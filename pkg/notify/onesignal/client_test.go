package onesignal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/papermatch/papermatch-functions/pkg/billing"
)

const (
	testAppID  = "00000000-0000-0000-0000-000000000001"
	testAPIKey = "rest-api-key"
)

// captured is the last request the fake OneSignal server received
type captured struct {
	method string
	path   string
	auth   string
	body   notification
	calls  int
}

func newFakeOneSignal(t *testing.T, status int, response string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.calls++
		c.method = r.Method
		c.path = r.URL.Path
		c.auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &c.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, c
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{AppID: testAppID, RESTAPIKey: testAPIKey, BaseURL: baseURL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	for _, cfg := range []Config{{}, {AppID: testAppID}, {RESTAPIKey: testAPIKey}} {
		if _, err := NewClient(cfg); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("Expected ErrNotConfigured for %+v, got %v", cfg, err)
		}
	}
}

func TestClient_Send(t *testing.T) {
	server, got := newFakeOneSignal(t, http.StatusOK, `{"id":"notif-1","recipients":1}`)
	client := newTestClient(t, server.URL)

	resp, err := client.Send(context.Background(), "u1", "You have a new match!")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if string(resp) != `{"id":"notif-1","recipients":1}` {
		t.Errorf("Unexpected response %s", resp)
	}

	if got.method != http.MethodPost || got.path != "/notifications" {
		t.Errorf("Unexpected request %s %s", got.method, got.path)
	}
	if got.auth != "Basic "+testAPIKey {
		t.Errorf("Unexpected authorization %q", got.auth)
	}
	if got.body.AppID != testAppID {
		t.Errorf("Unexpected app id %q", got.body.AppID)
	}
	if len(got.body.IncludeExternalUserIDs) != 1 || got.body.IncludeExternalUserIDs[0] != "u1" {
		t.Errorf("Unexpected recipients %v", got.body.IncludeExternalUserIDs)
	}
	if got.body.Contents["en"] != "You have a new match!" {
		t.Errorf("Unexpected contents %v", got.body.Contents)
	}
}

func TestClient_Send_ProviderError(t *testing.T) {
	server, _ := newFakeOneSignal(t, http.StatusBadRequest, `{"errors":["Invalid app_id"]}`)
	client := newTestClient(t, server.URL)

	_, err := client.Send(context.Background(), "u1", "hi")
	if !errors.Is(err, ErrAPIError) {
		t.Errorf("Expected ErrAPIError, got %v", err)
	}
}

func TestClient_Send_InvalidJSONResponse(t *testing.T) {
	server, _ := newFakeOneSignal(t, http.StatusOK, `<html>`)
	client := newTestClient(t, server.URL)

	if _, err := client.Send(context.Background(), "u1", "hi"); !errors.Is(err, ErrAPIError) {
		t.Errorf("Expected ErrAPIError, got %v", err)
	}
}

func TestClient_Send_NetworkError(t *testing.T) {
	server, _ := newFakeOneSignal(t, http.StatusOK, `{}`)
	client := newTestClient(t, server.URL)
	server.Close()

	if _, err := client.Send(context.Background(), "u1", "hi"); err == nil {
		t.Error("Expected an error when the provider is unreachable")
	}
}

func TestClient_Send_MissingFields(t *testing.T) {
	server, got := newFakeOneSignal(t, http.StatusOK, `{}`)
	client := newTestClient(t, server.URL)

	if _, err := client.Send(context.Background(), "", "hi"); !errors.Is(err, ErrMissingUserID) {
		t.Errorf("Expected ErrMissingUserID, got %v", err)
	}
	if _, err := client.Send(context.Background(), "u1", ""); !errors.Is(err, ErrMissingContents) {
		t.Errorf("Expected ErrMissingContents, got %v", err)
	}
	if got.calls != 0 {
		t.Errorf("Provider must not be called, got %d calls", got.calls)
	}
}

func TestClient_CreditsAdded(t *testing.T) {
	server, got := newFakeOneSignal(t, http.StatusOK, `{"id":"notif_1","recipients":1}`)
	callback := newTestClient(t, server.URL).CreditsAdded()

	err := callback(context.Background(), billing.WebhookEvent{UserID: "u1", Credits: 6, Provider: "stripe"})
	if err != nil {
		t.Fatalf("CreditsAdded failed: %v", err)
	}
	if got.calls != 1 {
		t.Fatalf("Expected one notification, got %d", got.calls)
	}
	if len(got.body.IncludeExternalUserIDs) != 1 || got.body.IncludeExternalUserIDs[0] != "u1" {
		t.Errorf("Unexpected recipients %v", got.body.IncludeExternalUserIDs)
	}
	if got.body.Contents["en"] != "6 credits were added to your account" {
		t.Errorf("Unexpected contents %q", got.body.Contents["en"])
	}

	if err := callback(context.Background(), billing.WebhookEvent{UserID: "u1", Credits: 0}); err != nil {
		t.Errorf("Expected no error for zero credits, got %v", err)
	}
	if got.calls != 1 {
		t.Errorf("Expected zero-credit entries to send nothing, got %d calls", got.calls)
	}
}

func TestClient_CreditsAddedUpstreamError(t *testing.T) {
	server, _ := newFakeOneSignal(t, http.StatusBadRequest, `{"errors":["bad"]}`)
	callback := newTestClient(t, server.URL).CreditsAdded()

	err := callback(context.Background(), billing.WebhookEvent{UserID: "u1", Credits: 1})
	if !errors.Is(err, ErrAPIError) {
		t.Errorf("Expected ErrAPIError, got %v", err)
	}
}

func TestCreditsAddedMessage(t *testing.T) {
	if got := creditsAddedMessage(1); got != "1 credit was added to your account" {
		t.Errorf("Unexpected singular message %q", got)
	}
	if got := creditsAddedMessage(12); got != "12 credits were added to your account" {
		t.Errorf("Unexpected plural message %q", got)
	}
}
