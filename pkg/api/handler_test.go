package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/papermatch/papermatch-functions/pkg/ledger"
	"github.com/papermatch/papermatch-functions/storage/memory"
)

const testUserID = "user123"

// Helper to create a writer with a fixed clock
func newTestWriter(t *testing.T) *ledger.Writer {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	writer, err := ledger.NewWriter(memory.New(), ledger.Config{
		Now: func() time.Time {
			n++
			return base.Add(time.Duration(n) * time.Minute)
		},
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return writer
}

func seed(t *testing.T, writer *ledger.Writer) {
	t.Helper()
	ctx := context.Background()
	if _, err := writer.Grant(ctx, testUserID, ledger.CreditorInit, 3); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := writer.Credit(ctx, ledger.CreditRequest{
		UserID: testUserID, Creditor: ledger.CreditorStripe, CreditorID: "cs_test_1", Quantity: 6,
	}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := writer.Grant(ctx, testUserID, ledger.CreditorMatch, -1); err != nil {
		t.Fatalf("Grant: %v", err)
	}
}

func getCredits(t *testing.T, h *Handler, target string) (*httptest.ResponseRecorder, CreditsResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	w := httptest.NewRecorder()
	h.GetCredits(w, req)

	var resp CreditsResponse
	if w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return w, resp
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := NewHandler(Config{GetUserID: FromHeader("X-User-ID")}); err == nil {
		t.Error("expected error without writer")
	}
	if _, err := NewHandler(Config{Writer: newTestWriter(t)}); err == nil {
		t.Error("expected error without GetUserID")
	}
}

func TestHandler_GetCredits(t *testing.T) {
	writer := newTestWriter(t)
	seed(t, writer)

	handler, err := NewHandler(Config{
		Writer:    writer,
		GetUserID: func(*http.Request) string { return testUserID },
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	w, resp := getCredits(t, handler, "/credits")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if resp.UserID != testUserID {
		t.Errorf("user_id = %q", resp.UserID)
	}
	if resp.Balance != 8 {
		t.Errorf("balance = %d, want 8", resp.Balance)
	}
	if len(resp.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(resp.Entries))
	}
	// newest first
	if resp.Entries[0].Creditor != string(ledger.CreditorMatch) || resp.Entries[0].Credits != -1 {
		t.Errorf("first entry = %+v", resp.Entries[0])
	}
	if resp.Entries[1].CreditorID != "cs_test_1" {
		t.Errorf("second entry = %+v", resp.Entries[1])
	}
}

func TestHandler_GetCredits_Limit(t *testing.T) {
	writer := newTestWriter(t)
	seed(t, writer)

	handler, _ := NewHandler(Config{
		Writer:     writer,
		GetUserID:  FromHeader("X-User-ID"),
		MaxEntries: 2,
	})

	tests := []struct {
		target      string
		wantCode    int
		wantEntries int
	}{
		{target: "/credits", wantCode: http.StatusOK, wantEntries: 2},
		{target: "/credits?limit=1", wantCode: http.StatusOK, wantEntries: 1},
		{target: "/credits?limit=50", wantCode: http.StatusOK, wantEntries: 2},
		{target: "/credits?limit=0", wantCode: http.StatusOK, wantEntries: 0},
		{target: "/credits?limit=-1", wantCode: http.StatusBadRequest},
		{target: "/credits?limit=abc", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			req.Header.Set("X-User-ID", testUserID)
			w := httptest.NewRecorder()
			handler.GetCredits(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp CreditsResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(resp.Entries) != tt.wantEntries {
				t.Errorf("entries = %d, want %d", len(resp.Entries), tt.wantEntries)
			}
			if resp.Balance != 8 {
				t.Errorf("balance = %d, want 8 regardless of limit", resp.Balance)
			}
		})
	}
}

func TestHandler_GetCredits_Unauthorized(t *testing.T) {
	handler, _ := NewHandler(Config{
		Writer:    newTestWriter(t),
		GetUserID: FromHeader("X-User-ID"),
	})

	w, _ := getCredits(t, handler, "/credits")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHandler_GetCredits_EmptyLedger(t *testing.T) {
	handler, _ := NewHandler(Config{
		Writer:    newTestWriter(t),
		GetUserID: func(*http.Request) string { return "nobody" },
	})

	w, resp := getCredits(t, handler, "/credits")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp.Balance != 0 || len(resp.Entries) != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandler_GetCredits_CustomError(t *testing.T) {
	var got error
	handler, _ := NewHandler(Config{
		Writer:    newTestWriter(t),
		GetUserID: func(*http.Request) string { return "" },
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		},
	})

	w, _ := getCredits(t, handler, "/credits")
	if w.Code != http.StatusTeapot || got == nil {
		t.Errorf("custom error handler not used: code %d err %v", w.Code, got)
	}
}

type stubVerifier struct {
	users map[string]string
}

func (s stubVerifier) VerifyCaller(_ context.Context, token string) (string, error) {
	if id, ok := s.users[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func TestFromBearerToken(t *testing.T) {
	get := FromBearerToken(stubVerifier{users: map[string]string{"good": testUserID}})

	tests := []struct {
		header string
		want   string
	}{
		{header: "Bearer good", want: testUserID},
		{header: "Bearer bad", want: ""},
		{header: "", want: ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/credits", http.NoBody)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := get(req); got != tt.want {
			t.Errorf("FromBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

type ctxKey struct{}

func TestFromContext(t *testing.T) {
	get := FromContext(ctxKey{})
	req := httptest.NewRequest(http.MethodGet, "/credits", http.NoBody)
	if got := get(req); got != "" {
		t.Errorf("got %q without value", got)
	}
	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, testUserID))
	if got := get(req); got != testUserID {
		t.Errorf("got %q", got)
	}
}

func TestRecentEntries(t *testing.T) {
	entries := make([]ledger.Entry, 5)
	for i := range entries {
		entries[i] = ledger.Entry{ID: fmt.Sprintf("e%d", i), Credits: int64(i)}
	}
	views := recentEntries(entries, 2)
	if len(views) != 2 || views[0].ID != "e4" || views[1].ID != "e3" {
		t.Errorf("views = %+v", views)
	}
	if got := recentEntries(nil, 10); len(got) != 0 {
		t.Errorf("nil entries = %+v", got)
	}
}
