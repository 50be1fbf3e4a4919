package ledger

import (
	"context"
	"time"
)

// Creditor identifies where a ledger entry's credits came from
type Creditor string

const (
	// CreditorInit is the initial grant every new user receives
	CreditorInit Creditor = "init"
	// CreditorMatch is a (negative) entry consumed by a match
	CreditorMatch Creditor = "match"
	// CreditorStripe is a purchase completed through Stripe Checkout
	CreditorStripe Creditor = "stripe"
	// CreditorRevenueCat is an in-app purchase reported by RevenueCat
	CreditorRevenueCat Creditor = "revenuecat"
	// CreditorAdmin is a manual adjustment
	CreditorAdmin Creditor = "admin"
)

// Valid reports whether c is one of the known creditor kinds
func (c Creditor) Valid() bool {
	switch c {
	case CreditorInit, CreditorMatch, CreditorStripe, CreditorRevenueCat, CreditorAdmin:
		return true
	default:
		return false
	}
}

// IsPaymentProvider reports whether entries of this kind originate from a payment
// provider and therefore must carry an external reference.
func (c Creditor) IsPaymentProvider() bool {
	return c == CreditorStripe || c == CreditorRevenueCat
}

// Entry is a single row of the append-only credit ledger
type Entry struct {
	ID         string
	UserID     string
	Credits    int64
	Creditor   Creditor
	CreditorID string // external reference, empty when none
	CreatedAt  time.Time
}

// DedupKey returns the (creditor, reference) key that uniquely identifies an entry.
// Entries without an external reference have no key and are never deduplicated.
func (e *Entry) DedupKey() string {
	if e.CreditorID == "" {
		return ""
	}
	return string(e.Creditor) + ":" + e.CreditorID
}

// WriteResult is the outcome of an insert-if-absent write
type WriteResult int

const (
	// WriteInserted means a new entry was appended
	WriteInserted WriteResult = iota + 1
	// WriteDuplicate means an entry with the same (creditor, reference) already existed
	// and nothing was written
	WriteDuplicate
)

func (r WriteResult) String() string {
	switch r {
	case WriteInserted:
		return "inserted"
	case WriteDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Store persists ledger entries.
//
// InsertIfAbsent must be atomic with respect to the (Creditor, CreditorID) pair: when
// CreditorID is non-empty and an entry with the same pair exists, it returns
// WriteDuplicate and leaves the ledger untouched. Concurrent callers racing on the
// same pair must observe exactly one WriteInserted.
type Store interface {
	InsertIfAbsent(ctx context.Context, entry *Entry) (WriteResult, error)

	// Balance returns the sum of credits over all of the user's entries
	Balance(ctx context.Context, userID string) (int64, error)

	// Entries returns the user's entries ordered by creation time (oldest first)
	Entries(ctx context.Context, userID string) ([]Entry, error)

	// Ping checks the backing store is reachable
	Ping(ctx context.Context) error
}

// CreditRequest asks the writer to credit a user for an external transaction
type CreditRequest struct {
	UserID     string
	Creditor   Creditor
	CreditorID string
	Quantity   int64
}

// Receipt describes what a write did
type Receipt struct {
	Result WriteResult
	Entry  Entry
}
