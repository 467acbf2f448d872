package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver ("sqlite3")
	_ "modernc.org/sqlite"          // pure Go SQLite driver ("sqlite")

	"mercator-hq/voicequota/pkg/limits"
)

// SQLite driver names.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It is suitable for single-instance deployments where usage must survive
// restarts.
//
// The pool is limited to one connection, so every Update transaction has
// exclusive use of the database for its duration. SQLite only supports a
// single writer and this keeps debits linearized without busy retries.
// Transactions begin IMMEDIATE so another process on the same file, such as
// the ledger CLI next to a running server, waits on busy_timeout instead of
// failing when a read lock is upgraded.
type SQLiteBackend struct {
	db               *sql.DB
	dbPath           string
	driver           string
	snapshotInterval time.Duration
	done             chan struct{}
	closeOnce        sync.Once

	// preparedStatements contains pre-compiled SQL statements for performance
	loadStmt    *sql.Stmt
	upsertStmt  *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Driver selects the database/sql driver: "sqlite" (modernc.org/sqlite,
	// pure Go) or "sqlite3" (github.com/mattn/go-sqlite3, requires cgo).
	// Default: "sqlite"
	Driver string

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:           dbPath,
		Driver:           DriverModernc,
		SnapshotInterval: 5 * time.Minute,
		BusyTimeout:      5 * time.Second,
	})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	// Apply defaults
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := sqliteDSN(cfg.Driver, cfg.DBPath, cfg.BusyTimeout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:               db,
		dbPath:           cfg.DBPath,
		driver:           cfg.Driver,
		snapshotInterval: cfg.SnapshotInterval,
		done:             make(chan struct{}),
	}

	// Initialize schema
	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Prepare statements
	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	// Start background checkpoint goroutine
	go backend.checkpointLoop()

	return backend, nil
}

// sqliteDSN builds a connection string with WAL mode and immediate
// transactions for the given driver.
// The two drivers spell pragmas differently.
func sqliteDSN(driver, path string, busyTimeout time.Duration) (string, error) {
	ms := int(busyTimeout.Milliseconds())
	switch driver {
	case DriverModernc:
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
			path, ms), nil
	case DriverCgo:
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL&_txlock=immediate",
			path, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q (must be %q or %q)", driver, DriverModernc, DriverCgo)
	}
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		user_id TEXT PRIMARY KEY,
		window_start INTEGER NOT NULL,
		window_end INTEGER NOT NULL,
		consumed_seconds INTEGER NOT NULL DEFAULT 0,
		request_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_window_end ON usage_records(window_end);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.loadStmt, err = s.db.Prepare(`
		SELECT user_id, window_start, window_end, consumed_seconds, request_count, updated_at
		FROM usage_records
		WHERE user_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.upsertStmt, err = s.db.Prepare(`
		INSERT INTO usage_records (user_id, window_start, window_end, consumed_seconds, request_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			consumed_seconds = excluded.consumed_seconds,
			request_count = excluded.request_count,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM usage_records WHERE user_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT user_id, window_start, window_end, consumed_seconds, request_count, updated_at
		FROM usage_records
		ORDER BY user_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`DELETE FROM usage_records WHERE window_end < ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Name returns "sqlite".
func (s *SQLiteBackend) Name() string {
	return BackendSQLite
}

// Load retrieves the usage record for a user.
func (s *SQLiteBackend) Load(ctx context.Context, userID string) (*limits.UsageRecord, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	rec, err := scanSQLiteRecord(s.loadStmt.QueryRowContext(ctx, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}
	return rec, nil
}

// Update applies fn inside a transaction on the backend's only connection.
func (s *SQLiteBackend) Update(ctx context.Context, userID string, fn UpdateFunc) (*limits.UsageRecord, error) {
	if err := validateUpdate(userID, fn); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanSQLiteRecord(tx.StmtContext(ctx, s.loadStmt).QueryRowContext(ctx, userID))
	if errors.Is(err, sql.ErrNoRows) {
		rec = &limits.UsageRecord{UserID: userID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load usage record: %w", err)
	}

	changed, err := fn(rec)
	if err != nil {
		return nil, err
	}
	if !changed {
		return rec, nil
	}

	rec.UserID = userID
	_, err = tx.StmtContext(ctx, s.upsertStmt).ExecContext(ctx,
		rec.UserID,
		rec.WindowStart.UnixMilli(),
		rec.WindowEnd.UnixMilli(),
		rec.ConsumedSeconds,
		rec.RequestCount,
		rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save usage record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return rec, nil
}

// Delete removes the usage record for a user.
func (s *SQLiteBackend) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	if _, err := s.deleteStmt.ExecContext(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete usage record: %w", err)
	}
	return nil
}

// List returns all stored usage records ordered by user.
func (s *SQLiteBackend) List(ctx context.Context) ([]*limits.UsageRecord, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	var records []*limits.UsageRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
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
func (s *SQLiteBackend) Cleanup(ctx context.Context, endedBefore time.Time) (int, error) {
	result, err := s.cleanupStmt.ExecContext(ctx, endedBefore.UnixMilli())
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
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		// Signal checkpoint goroutine to stop
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.loadStmt, s.upsertStmt, s.deleteStmt, s.listStmt, s.cleanupStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		// Final checkpoint so the WAL is folded into the main file
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = fmt.Errorf("failed to checkpoint WAL: %w", err)
		}

		if err := s.db.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("failed to close database: %w", err)
		}
	})

	return closeErr
}

// checkpointLoop periodically checkpoints the WAL file.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*limits.UsageRecord, error) {
	var (
		rec         limits.UsageRecord
		windowStart int64
		windowEnd   int64
		updatedAt   int64
	)

	if err := row.Scan(
		&rec.UserID,
		&windowStart,
		&windowEnd,
		&rec.ConsumedSeconds,
		&rec.RequestCount,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	rec.WindowStart = time.UnixMilli(windowStart)
	rec.WindowEnd = time.UnixMilli(windowEnd)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}
