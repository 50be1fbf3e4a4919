// Package firestore provides a Firestore implementation of the ledger.Store interface.
// Entries carrying an external reference are stored under a deterministic document ID
// derived from (creditor, reference), so a redelivered credit fails Create with
// AlreadyExists instead of producing a second entry.
package firestore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// Storage implements ledger.Store using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration
type Config struct {
	// CreditsCollection is the Firestore collection for ledger entries
	// Default: "credits"
	CreditsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.CreditsCollection == "" {
		config.CreditsCollection = "credits"
	}

	return &Storage{
		client:     client,
		collection: config.CreditsCollection,
	}, nil
}

// InsertIfAbsent implements ledger.Store
func (s *Storage) InsertIfAbsent(ctx context.Context, entry *ledger.Entry) (ledger.WriteResult, error) {
	if entry == nil || entry.UserID == "" || entry.ID == "" {
		return 0, fmt.Errorf("%w: id and user id are required", ledger.ErrInvalidEntry)
	}

	data := map[string]interface{}{
		"id":        entry.ID,
		"userId":    entry.UserID,
		"credits":   entry.Credits,
		"creditor":  string(entry.Creditor),
		"createdAt": entry.CreatedAt.UTC(),
	}
	if entry.CreditorID != "" {
		data["creditorId"] = entry.CreditorID
	}

	_, err := s.client.Collection(s.collection).Doc(documentID(entry)).Create(ctx, data)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ledger.WriteDuplicate, nil
		}
		return 0, fmt.Errorf("failed to create entry: %w", err)
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
	docs, err := s.client.Collection(s.collection).
		Where("userId", "==", userID).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]ledger.Entry, 0, len(docs))
	for _, doc := range docs {
		data := doc.Data()
		entries = append(entries, ledger.Entry{
			ID:         getString(data, "id"),
			UserID:     getString(data, "userId"),
			Credits:    getInt64(data, "credits"),
			Creditor:   ledger.Creditor(getString(data, "creditor")),
			CreditorID: getString(data, "creditorId"),
			CreatedAt:  getTime(data, "createdAt"),
		})
	}

	// Ordering in the query would require a composite index
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}

// Ping checks that the collection is reachable
func (s *Storage) Ping(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.GetAll(); err != nil {
		return fmt.Errorf("failed to reach firestore: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (s *Storage) Close() error {
	return s.client.Close()
}

// documentID returns the deterministic document ID for referenced entries and the
// entry ID otherwise. Path separators are escaped since references are provider input.
func documentID(entry *ledger.Entry) string {
	if key := entry.DedupKey(); key != "" {
		return url.PathEscape(key)
	}
	return entry.ID
}

// Helper functions

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
