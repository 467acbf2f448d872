package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"mercator-hq/voicequota/pkg/limits"
)

// PostgresBackend implements Backend on PostgreSQL.
// Updates lock the user's row with SELECT ... FOR UPDATE inside a
// transaction, so concurrent debits for one user are serialized by the
// database while different users proceed in parallel.
type PostgresBackend struct {
	db *sql.DB
}

// PostgresBackendConfig configures the PostgreSQL backend.
type PostgresBackendConfig struct {
	// DSN is the lib/pq connection string or URL.
	DSN string

	// MaxOpenConns limits open connections.
	// Default: 20
	MaxOpenConns int

	// MaxIdleConns limits idle connections.
	// Default: 5
	MaxIdleConns int

	// ConnMaxLifetime recycles connections after this duration.
	// Default: 30 minutes
	ConnMaxLifetime time.Duration
}

// NewPostgresBackend connects to PostgreSQL and creates the schema if needed.
func NewPostgresBackend(ctx context.Context, cfg PostgresBackendConfig) (*PostgresBackend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	backend := NewPostgresBackendWithDB(db)
	if err := backend.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return backend, nil
}

// NewPostgresBackendWithDB wraps an existing connection pool.
// The schema is not created; call Migrate if needed.
func NewPostgresBackendWithDB(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Migrate creates the usage_records table if it doesn't exist.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS usage_records (
			user_id TEXT PRIMARY KEY,
			window_start TIMESTAMPTZ NOT NULL,
			window_end TIMESTAMPTZ NOT NULL,
			consumed_seconds BIGINT NOT NULL DEFAULT 0,
			request_count BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_records_window_end ON usage_records (window_end);
	`)
	return err
}

// Name returns "postgres".
func (p *PostgresBackend) Name() string {
	return BackendPostgres
}

const postgresSelect = `
	SELECT user_id, window_start, window_end, consumed_seconds, request_count, updated_at
	FROM usage_records`

// Load retrieves the usage record for a user.
func (p *PostgresBackend) Load(ctx context.Context, userID string) (*limits.UsageRecord, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	rec, err := scanPostgresRecord(p.db.QueryRowContext(ctx, postgresSelect+` WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}
	return rec, nil
}

// Update locks the user's row for the duration of fn.
//
// A missing row is inserted with an epoch window first so that there is
// always a row to lock; the epoch window is already expired and is rotated
// by the caller like any other stale record.
func (p *PostgresBackend) Update(ctx context.Context, userID string, fn UpdateFunc) (*limits.UsageRecord, error) {
	if err := validateUpdate(userID, fn); err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	epoch := time.Unix(0, 0).UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_records (user_id, window_start, window_end, consumed_seconds, request_count, updated_at)
		VALUES ($1, $2, $2, 0, 0, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, epoch,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure usage record: %w", err)
	}

	rec, err := scanPostgresRecord(tx.QueryRowContext(ctx, postgresSelect+` WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock usage record: %w", err)
	}

	changed, err := fn(rec)
	if err != nil {
		return nil, err
	}

	if changed {
		rec.UserID = userID
		_, err = tx.ExecContext(ctx, `
			UPDATE usage_records
			SET window_start = $2, window_end = $3, consumed_seconds = $4, request_count = $5, updated_at = $6
			WHERE user_id = $1`,
			rec.UserID, rec.WindowStart, rec.WindowEnd, rec.ConsumedSeconds, rec.RequestCount, rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to save usage record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return rec, nil
}

// Delete removes the usage record for a user.
func (p *PostgresBackend) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	if _, err := p.db.ExecContext(ctx, `DELETE FROM usage_records WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete usage record: %w", err)
	}
	return nil
}

// List returns all stored usage records ordered by user.
func (p *PostgresBackend) List(ctx context.Context) ([]*limits.UsageRecord, error) {
	rows, err := p.db.QueryContext(ctx, postgresSelect+` ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	var records []*limits.UsageRecord
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// Cleanup removes records whose window ended before endedBefore.
func (p *PostgresBackend) Cleanup(ctx context.Context, endedBefore time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `DELETE FROM usage_records WHERE window_end < $1`, endedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Ping checks the database connection.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}

func scanPostgresRecord(row rowScanner) (*limits.UsageRecord, error) {
	var rec limits.UsageRecord
	if err := row.Scan(
		&rec.UserID,
		&rec.WindowStart,
		&rec.WindowEnd,
		&rec.ConsumedSeconds,
		&rec.RequestCount,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
