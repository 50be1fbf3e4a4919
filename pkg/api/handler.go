// Package api serves a user's own credit balance and ledger history.
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/papermatch/papermatch-functions/internal"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

const (
	defaultMaxEntries = 100
	maxUserIDLen      = 255
)

// Handler provides HTTP endpoints for credit inspection
type Handler struct {
	config Config
}

// GetCredits returns the caller's balance and most recent ledger entries.
// The optional "limit" query parameter narrows the history further.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	internal.SetSecurityHeaders(w)

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	limit := h.config.MaxEntries
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.handleError(w, r, fmt.Errorf("invalid limit"), http.StatusBadRequest)
			return
		}
		if n < limit {
			limit = n
		}
	}

	entries, err := h.config.Writer.Entries(ctx, userID)
	if err != nil {
		h.config.Logger.Error("failed to list ledger entries", ledger.F("user_id", userID), ledger.F("error", err))
		h.handleError(w, r, fmt.Errorf("failed to load credits"), http.StatusInternalServerError)
		return
	}

	// Balance is summed over the full history, not the truncated view
	var balance int64
	for i := range entries {
		balance += entries[i].Credits
	}

	_ = internal.WriteJSON(w, http.StatusOK, CreditsResponse{
		UserID:  userID,
		Balance: balance,
		Entries: recentEntries(entries, limit),
	})
}

// recentEntries returns the last n entries, newest first
func recentEntries(entries []ledger.Entry, n int) []EntryView {
	if n > len(entries) {
		n = len(entries)
	}
	views := make([]EntryView, 0, n)
	for i := len(entries) - 1; i >= len(entries)-n; i-- {
		e := entries[i]
		views = append(views, EntryView{
			ID:         e.ID,
			Credits:    e.Credits,
			Creditor:   string(e.Creditor),
			CreditorID: e.CreditorID,
			CreatedAt:  e.CreatedAt,
		})
	}
	return views
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	_ = internal.WriteError(w, statusCode, err.Error())
}
