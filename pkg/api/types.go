package api

import "time"

// CreditsResponse is a user's credit standing
type CreditsResponse struct {
	UserID  string      `json:"user_id"`
	Balance int64       `json:"balance"`
	Entries []EntryView `json:"entries"`
}

// EntryView is one ledger entry as shown to its owner
type EntryView struct {
	ID         string    `json:"id"`
	Credits    int64     `json:"credits"`
	Creditor   string    `json:"creditor"`
	CreditorID string    `json:"creditor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
