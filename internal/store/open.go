package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bitchest/wallet-engine/internal/config"
)

// Open builds the store selected by cfg: PostgreSQL when a database URL is
// set, otherwise SQLite when a path is set, otherwise memory. A non-nil rdb
// wraps the result in a CachedStore.
func Open(ctx context.Context, cfg config.Config, rdb *redis.Client) (Store, error) {
	var st Store

	switch {
	case cfg.Database.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database ping failed: %w", err)
		}
		pg := NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		st = pg
		slog.Info("connected to PostgreSQL")

	case cfg.SQLite.Path != "":
		lite, err := NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		st = lite
		slog.Info("opened SQLite database", "path", cfg.SQLite.Path)

	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		st = NewMemoryStore()
	}

	if rdb != nil {
		st = NewCachedStore(st, rdb, cfg.Redis.TTL)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.TTL.String())
	}
	return st, nil
}
