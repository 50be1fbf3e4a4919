// Package supabase provides a ledger.Store backed by the credits table of a Supabase
// project, reached through its PostgREST interface. The table is expected to carry the
// schema from storage/postgres, whose partial unique index on (creditor, creditor_id)
// turns redelivered credits into unique-violation responses.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nedpals/supabase-go"
	postgrest "github.com/nedpals/supabase-go/postgrest/pkg"

	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// Storage implements ledger.Store using the Supabase REST API
type Storage struct {
	client *supabase.Client
	table  string
}

// Config holds Supabase storage configuration
type Config struct {
	// URL is the project URL, e.g. https://xyz.supabase.co
	URL string

	// ServiceRoleKey bypasses row level security; the ledger is written server-side only
	ServiceRoleKey string

	// Table is the ledger table name (default: "credits")
	Table string
}

// uniqueViolation is the SQLSTATE PostgREST reports for a unique index conflict
const uniqueViolation = "23505"

// row is the PostgREST representation of a credits row
type row struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Credits    int64     `json:"credits"`
	Creditor   string    `json:"creditor"`
	CreditorID *string   `json:"creditor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// New creates a new Supabase storage adapter
func New(config Config) (*Storage, error) {
	if config.URL == "" || config.ServiceRoleKey == "" {
		return nil, fmt.Errorf("supabase url and service role key are required")
	}
	if config.Table == "" {
		config.Table = "credits"
	}

	client := supabase.CreateClient(config.URL, config.ServiceRoleKey)
	if client == nil {
		return nil, fmt.Errorf("failed to create supabase client")
	}

	return NewWithClient(client, config.Table), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *supabase.Client, table string) *Storage {
	if table == "" {
		table = "credits"
	}
	return &Storage{client: client, table: table}
}

// InsertIfAbsent implements ledger.Store
func (s *Storage) InsertIfAbsent(ctx context.Context, entry *ledger.Entry) (ledger.WriteResult, error) {
	if entry == nil || entry.UserID == "" || entry.ID == "" {
		return 0, fmt.Errorf("%w: id and user id are required", ledger.ErrInvalidEntry)
	}
	r := toRow(entry)
	var inserted []row
	err := s.client.DB.From(s.table).Insert(r).ExecuteWithContext(ctx, &inserted)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.WriteDuplicate, nil
		}
		return 0, fmt.Errorf("failed to insert entry: %w", err)
	}

	return ledger.WriteInserted, nil
}

// Balance implements ledger.Store
func (s *Storage) Balance(ctx context.Context, userID string) (int64, error) {
	entries, err := s.Entries(ctx, userID)
	if err != nil {
		return 0, err
	}

	var balance int64
	for i := range entries {
		balance += entries[i].Credits
	}
	return balance, nil
}

// Entries implements ledger.Store
func (s *Storage) Entries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	var rows []row
	err := s.client.DB.From(s.table).
		Select("id", "user_id", "credits", "creditor", "creditor_id", "created_at").
		Eq("user_id", userID).
		ExecuteWithContext(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]ledger.Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, fromRow(&rows[i]))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}

// Ping issues a filtered select that matches no rows
func (s *Storage) Ping(ctx context.Context) error {
	var rows []row
	if err := s.client.DB.From(s.table).Select("id").Eq("user_id", "").ExecuteWithContext(ctx, &rows); err != nil {
		return fmt.Errorf("failed to reach supabase: %w", err)
	}
	return nil
}

func toRow(entry *ledger.Entry) row {
	r := row{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Credits:   entry.Credits,
		Creditor:  string(entry.Creditor),
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if entry.CreditorID != "" {
		ref := entry.CreditorID
		r.CreditorID = &ref
	}
	return r
}

func fromRow(r *row) ledger.Entry {
	entry := ledger.Entry{
		ID:        r.ID,
		UserID:    r.UserID,
		Credits:   r.Credits,
		Creditor:  ledger.Creditor(r.Creditor),
		CreatedAt: r.CreatedAt,
	}
	if r.CreditorID != nil {
		entry.CreditorID = *r.CreditorID
	}
	return entry
}

// isUniqueViolation reports whether PostgREST rejected the insert with SQLSTATE 23505
func isUniqueViolation(err error) bool {
	var reqErr *postgrest.RequestError
	return errors.As(err, &reqErr) && reqErr.Code == uniqueViolation
}
