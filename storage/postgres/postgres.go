// Package postgres provides a PostgreSQL implementation of the ledger.Store interface.
// Idempotency is enforced by a partial unique index over (creditor, creditor_id);
// inserts use ON CONFLICT DO NOTHING RETURNING so a redelivered provider event is
// reported as a duplicate instead of an error.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

const defaultTable = "credits"

//go:embed schema.sql
var schemaSQL string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaSQL))

// Schema returns the DDL for the default credits table
func Schema() string {
	return SchemaFor(defaultTable)
}

// SchemaFor returns the DDL for a ledger table named table. Index names are derived
// from the table name.
func SchemaFor(table string) string {
	var b strings.Builder
	// Execute only fails on a broken template or writer, neither possible here
	_ = schemaTemplate.Execute(&b, struct {
		Table          string
		ReferenceIndex string
		UserIndex      string
	}{
		Table:          pgx.Identifier{table}.Sanitize(),
		ReferenceIndex: pgx.Identifier{table + "_creditor_reference_key"}.Sanitize(),
		UserIndex:      pgx.Identifier{table + "_user_id_created_at_idx"}.Sanitize(),
	})
	return b.String()
}

// Storage implements ledger.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Table is the ledger table name (default: "credits")
	Table string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Table:           defaultTable,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Table == "" {
		config.Table = defaultTable
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{
		pool:   pool,
		config: config,
	}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the creditor enum, the configured ledger table and its indexes
// if missing
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, SchemaFor(s.config.Table)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertIfAbsent implements ledger.Store
func (s *Storage) InsertIfAbsent(ctx context.Context, entry *ledger.Entry) (ledger.WriteResult, error) {
	if entry == nil || entry.UserID == "" || entry.ID == "" {
		return 0, fmt.Errorf("%w: id and user id are required", ledger.ErrInvalidEntry)
	}

	var insertedID string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, credits, creditor, creditor_id, created_at)
			VALUES ($1::text::uuid, $2, $3, $4::text::creditor, NULLIF($5::text, ''), $6)
			ON CONFLICT (creditor, creditor_id) WHERE creditor_id IS NOT NULL DO NOTHING
			RETURNING id::text`, pgx.Identifier{s.config.Table}.Sanitize()),
		entry.ID, entry.UserID, entry.Credits, string(entry.Creditor), entry.CreditorID, entry.CreatedAt,
	).Scan(&insertedID)

	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict on (creditor, creditor_id): the transaction was already credited
		return ledger.WriteDuplicate, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return ledger.WriteInserted, nil
}

// Balance implements ledger.Store
func (s *Storage) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(SUM(credits), 0)::bigint FROM %s WHERE user_id = $1`,
			pgx.Identifier{s.config.Table}.Sanitize()),
		userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Entries implements ledger.Store
func (s *Storage) Entries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id::text, user_id, credits, creditor::text, COALESCE(creditor_id, ''), created_at
			FROM %s
			WHERE user_id = $1
			ORDER BY created_at, id`, pgx.Identifier{s.config.Table}.Sanitize()),
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		var e ledger.Entry
		var creditor string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Credits, &creditor, &e.CreditorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Creditor = ledger.Creditor(creditor)
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	return entries, nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
