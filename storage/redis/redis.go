// Package redis provides a Redis implementation of the ledger.Store interface.
// Writes run as a single Lua script so the reference claim, the entry append and the
// balance increment are applied atomically.
//
// The script touches a global reference key and per-user keys, so Redis Cluster
// deployments must route them to one shard (use a single-node or sentinel setup).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

// Storage implements ledger.Store using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
	insert *redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "papermatch:ledger:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "papermatch:ledger:",
	}
}

// record is the JSON form of a ledger entry stored in the per-user list
type record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Credits    int64     `json:"credits"`
	Creditor   string    `json:"creditor"`
	CreditorID string    `json:"creditor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// insertScript claims the reference key (when present), appends the entry and
// bumps the cached balance. Returns 1 on insert, 0 on duplicate.
const insertScript = `
	local refKey = KEYS[1]
	local entriesKey = KEYS[2]
	local balanceKey = KEYS[3]
	local entryID = ARGV[1]
	local payload = ARGV[2]
	local credits = ARGV[3]
	local hasRef = ARGV[4]

	if hasRef == '1' then
		local claimed = redis.call('SET', refKey, entryID, 'NX')
		if not claimed then
			return 0
		end
	end

	redis.call('RPUSH', entriesKey, payload)
	redis.call('INCRBY', balanceKey, credits)
	return 1
`

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.FailoverClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}

	return &Storage{
		client: client,
		config: config,
		insert: redis.NewScript(insertScript),
	}, nil
}

// InsertIfAbsent implements ledger.Store
func (s *Storage) InsertIfAbsent(ctx context.Context, entry *ledger.Entry) (ledger.WriteResult, error) {
	if entry == nil || entry.UserID == "" || entry.ID == "" {
		return 0, fmt.Errorf("%w: id and user id are required", ledger.ErrInvalidEntry)
	}

	payload, err := json.Marshal(record{
		ID:         entry.ID,
		UserID:     entry.UserID,
		Credits:    entry.Credits,
		Creditor:   string(entry.Creditor),
		CreditorID: entry.CreditorID,
		CreatedAt:  entry.CreatedAt.UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal entry: %w", err)
	}

	hasRef := "0"
	if entry.DedupKey() != "" {
		hasRef = "1"
	}

	keys := []string{
		s.referenceKey(entry.Creditor, entry.CreditorID),
		s.entriesKey(entry.UserID),
		s.balanceKey(entry.UserID),
	}

	status, err := s.insert.Run(ctx, s.client, keys, entry.ID, string(payload), entry.Credits, hasRef).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to execute insert script: %w", err)
	}
	if status == 0 {
		return ledger.WriteDuplicate, nil
	}

	return ledger.WriteInserted, nil
}

// Balance implements ledger.Store
func (s *Storage) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.client.Get(ctx, s.balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Entries implements ledger.Store
func (s *Storage) Entries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	raw, err := s.client.LRange(ctx, s.entriesKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]ledger.Entry, 0, len(raw))
	for _, item := range raw {
		var r record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		entries = append(entries, ledger.Entry{
			ID:         r.ID,
			UserID:     r.UserID,
			Credits:    r.Credits,
			Creditor:   ledger.Creditor(r.Creditor),
			CreditorID: r.CreditorID,
			CreatedAt:  r.CreatedAt,
		})
	}

	return entries, nil
}

func (s *Storage) referenceKey(creditor ledger.Creditor, reference string) string {
	return fmt.Sprintf("%sref:%s:%s", s.config.KeyPrefix, creditor, reference)
}

func (s *Storage) entriesKey(userID string) string {
	return fmt.Sprintf("%suser:%s:entries", s.config.KeyPrefix, userID)
}

func (s *Storage) balanceKey(userID string) string {
	return fmt.Sprintf("%suser:%s:balance", s.config.KeyPrefix, userID)
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
