// Package memory provides an in-memory implementation of the ledger.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// Storage implements ledger.Store using in-memory maps
type Storage struct {
	mu      sync.RWMutex
	entries []ledger.Entry
	keys    map[string]int // dedup key -> index into entries
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		keys: make(map[string]int),
	}
}

// InsertIfAbsent implements ledger.Store
func (s *Storage) InsertIfAbsent(_ context.Context, entry *ledger.Entry) (ledger.WriteResult, error) {
	if entry == nil || entry.UserID == "" || entry.ID == "" {
		return 0, fmt.Errorf("%w: id and user id are required", ledger.ErrInvalidEntry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := entry.DedupKey()
	if key != "" {
		if _, exists := s.keys[key]; exists {
			return ledger.WriteDuplicate, nil
		}
		s.keys[key] = len(s.entries)
	}

	// Store a copy to prevent external mutations
	s.entries = append(s.entries, *entry)
	return ledger.WriteInserted, nil
}

// Balance implements ledger.Store
func (s *Storage) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for i := range s.entries {
		if s.entries[i].UserID == userID {
			total += s.entries[i].Credits
		}
	}
	return total, nil
}

// Entries implements ledger.Store
func (s *Storage) Entries(_ context.Context, userID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Entry, 0)
	for i := range s.entries {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// Ping implements ledger.Store
func (s *Storage) Ping(_ context.Context) error {
	return nil
}

// Len returns the total number of entries across all users (useful for testing)
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.keys = make(map[string]int)
}
