package storage

import (
	"context"
	"fmt"
)

// Options selects and configures a backend for Open.
type Options struct {
	// Backend is one of "memory", "sqlite", "postgres", "redis".
	// Default: "memory"
	Backend string

	SQLite   SQLiteBackendConfig
	Postgres PostgresBackendConfig
	Redis    RedisBackendConfig
}

// Open creates the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendSQLite:
		return NewSQLiteBackendWithConfig(opts.SQLite)
	case BackendPostgres:
		return NewPostgresBackend(ctx, opts.Postgres)
	case BackendRedis:
		return NewRedisBackend(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
