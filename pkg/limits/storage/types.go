package storage

import (
	"context"
	"errors"
	"time"

	"mercator-hq/voicequota/pkg/limits"
)

// Backend names accepted by New.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// UpdateFunc mutates a usage record in place. It returns true if the record
// changed and must be persisted. A record that does not exist yet is passed
// with only UserID set.
type UpdateFunc func(rec *limits.UsageRecord) (bool, error)

// Backend defines the interface for usage record persistence.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Name returns the backend name used in logs and metrics.
	Name() string

	// Load retrieves the usage record for a user.
	// Returns nil if no record exists. Returns error on system failure.
	Load(ctx context.Context, userID string) (*limits.UsageRecord, error)

	// Update applies fn to the user's record with all other updates for the
	// same user excluded, and persists the record if fn reports a change.
	// It returns the record as it stands after the update.
	Update(ctx context.Context, userID string, fn UpdateFunc) (*limits.UsageRecord, error)

	// Delete removes the usage record for a user.
	// No-op if the record doesn't exist.
	Delete(ctx context.Context, userID string) error

	// List returns all stored usage records.
	List(ctx context.Context) ([]*limits.UsageRecord, error)

	// Cleanup removes records whose window ended before the given time.
	// Returns the number of records deleted.
	Cleanup(ctx context.Context, endedBefore time.Time) (int, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// Errors returned by backends for invalid input. Any other backend error is
// an infrastructure failure.
var (
	// ErrEmptyUserID is returned when a user identifier is empty.
	ErrEmptyUserID = errors.New("user id cannot be empty")

	// ErrNilUpdate is returned when Update is called without a function.
	ErrNilUpdate = errors.New("update function cannot be nil")

	// ErrClosed is returned when a closed backend is used.
	ErrClosed = errors.New("storage backend closed")
)

func validateUpdate(userID string, fn UpdateFunc) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if fn == nil {
		return ErrNilUpdate
	}
	return nil
}
