// Package ledger implements the append-only credit ledger that backs the
// papermatch credit economy. Payment webhooks credit users through Writer.Credit,
// which is safe under at-least-once delivery: the same (creditor, reference) pair
// never produces two entries.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds optional Writer collaborators
type Config struct {
	// Logger receives structured write logs. If nil, logs are discarded.
	Logger Logger

	// Now returns the creation timestamp for new entries. Defaults to time.Now in UTC.
	Now func() time.Time

	// NewID generates entry identifiers. Defaults to random UUIDs.
	NewID func() string
}

// Writer converts validated provider events into ledger entries
type Writer struct {
	store  Store
	logger Logger
	now    func() time.Time
	newID  func() string
}

// NewWriter creates a Writer over the given store
func NewWriter(store Store, config Config) (*Writer, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := config.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}

	return &Writer{
		store:  store,
		logger: logger,
		now:    now,
		newID:  newID,
	}, nil
}

// Credit appends an entry crediting req.Quantity to req.UserID, unless an entry for
// the same (Creditor, CreditorID) already exists, in which case the receipt carries
// WriteDuplicate and no error.
func (w *Writer) Credit(ctx context.Context, req CreditRequest) (*Receipt, error) {
	userID := strings.TrimSpace(req.UserID)
	reference := strings.TrimSpace(req.CreditorID)

	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidEntry)
	}
	if !req.Creditor.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCreditor, req.Creditor)
	}
	if req.Creditor.IsPaymentProvider() && reference == "" {
		return nil, fmt.Errorf("%w: %s credit for user %s", ErrMissingReference, req.Creditor, userID)
	}
	if req.Quantity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, req.Quantity)
	}

	entry := Entry{
		ID:         w.newID(),
		UserID:     userID,
		Credits:    req.Quantity,
		Creditor:   req.Creditor,
		CreditorID: reference,
		CreatedAt:  w.now(),
	}
	return w.write(ctx, &entry)
}

// Grant appends an entry without an external reference (initial grants, manual
// adjustments, match consumption). Grants are never deduplicated, and credits may
// be negative.
func (w *Writer) Grant(ctx context.Context, userID string, creditor Creditor, credits int64) (*Receipt, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidEntry)
	}
	if !creditor.Valid() || creditor.IsPaymentProvider() {
		return nil, fmt.Errorf("%w: %q cannot be granted without a reference", ErrInvalidCreditor, creditor)
	}

	entry := Entry{
		ID:        w.newID(),
		UserID:    userID,
		Credits:   credits,
		Creditor:  creditor,
		CreatedAt: w.now(),
	}
	return w.write(ctx, &entry)
}

func (w *Writer) write(ctx context.Context, entry *Entry) (*Receipt, error) {
	result, err := w.store.InsertIfAbsent(ctx, entry)
	if err != nil {
		w.logger.Error("ledger write failed",
			F("user_id", entry.UserID),
			F("creditor", string(entry.Creditor)),
			F("creditor_id", entry.CreditorID),
			F("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to write ledger entry: %w", err)
	}

	if result == WriteDuplicate {
		w.logger.Info("duplicate credit ignored",
			F("user_id", entry.UserID),
			F("creditor", string(entry.Creditor)),
			F("creditor_id", entry.CreditorID),
		)
	} else {
		w.logger.Info("credits written",
			F("entry_id", entry.ID),
			F("user_id", entry.UserID),
			F("creditor", string(entry.Creditor)),
			F("creditor_id", entry.CreditorID),
			F("credits", entry.Credits),
		)
	}

	return &Receipt{Result: result, Entry: *entry}, nil
}

// Balance returns the user's current credit balance
func (w *Writer) Balance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidEntry)
	}
	return w.store.Balance(ctx, userID)
}

// Entries returns the user's ledger history, oldest first
func (w *Writer) Entries(ctx context.Context, userID string) ([]Entry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidEntry)
	}
	return w.store.Entries(ctx, userID)
}

// Ping checks the underlying store
func (w *Writer) Ping(ctx context.Context) error {
	return w.store.Ping(ctx)
}
