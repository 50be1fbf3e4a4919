package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"

	"github.com/papermatch/papermatch-functions/pkg/config"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
	firestorestore "github.com/papermatch/papermatch-functions/storage/firestore"
	"github.com/papermatch/papermatch-functions/storage/memory"
	"github.com/papermatch/papermatch-functions/storage/postgres"
	redisstore "github.com/papermatch/papermatch-functions/storage/redis"
	supabasestore "github.com/papermatch/papermatch-functions/storage/supabase"
)

// openStore connects the ledger backend LEDGER_BACKEND names. The returned
// closer releases its connections.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		store, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		store, err := redisstore.New(redis.NewClient(opts), redisstore.DefaultConfig())
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store, err := firestorestore.New(client, firestorestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.BackendSupabase:
		store, err := supabasestore.New(supabasestore.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case config.BackendMemory:
		return memory.New(), func() {}, nil
	}

	return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
}
