// Package ledger is the authoritative record of voice-seconds consumed per user.
//
// The ledger is the only writer of usage records. It rotates stale windows
// lazily inside the backend's atomic update, so callers never see or handle
// an expired window, and it is the only component that can increase
// consumption.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/voicequota/pkg/limits"
	"mercator-hq/voicequota/pkg/limits/storage"
)

// Ledger tracks per-user consumption against a fixed quota policy.
type Ledger struct {
	backend storage.Backend
	policy  limits.QuotaPolicy
	now     func() time.Time
	metrics *limits.Metrics
	logger  *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now. Used by tests to control window rotation.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithMetrics records ledger operations on m.
func WithMetrics(m *limits.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithLogger sets the ledger's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New creates a ledger over backend enforcing policy.
func New(backend storage.Backend, policy limits.QuotaPolicy, opts ...Option) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("ledger backend cannot be nil")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	l := &Ledger{
		backend: backend,
		policy:  policy,
		now:     time.Now,
		logger:  slog.Default().With("component", "limits.ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Policy returns the quota policy the ledger enforces.
func (l *Ledger) Policy() limits.QuotaPolicy {
	return l.policy
}

// Backend returns the storage backend name.
func (l *Ledger) Backend() string {
	return l.backend.Name()
}

// Snapshot returns the user's current record, starting or rotating the
// window first if it has ended. Rotation is persisted so that repeated
// snapshots of the same stale window agree on the new window.
func (l *Ledger) Snapshot(ctx context.Context, userID string) (limits.UsageRecord, error) {
	if userID == "" {
		return limits.UsageRecord{}, limits.ErrUserRequired
	}

	now := l.now()

	started := time.Now()
	rec, err := l.backend.Load(ctx, userID)
	l.metrics.RecordLedgerOperation(l.backend.Name(), "load", started, err)
	if err != nil {
		return limits.UsageRecord{}, l.storageError("snapshot", userID, err)
	}
	if rec != nil && !rec.Expired(now) {
		return *rec, nil
	}

	// The fast path saw a missing or stale record. Rotate under the
	// backend's per-user serialization; Rotate is a no-op if another caller
	// already did it.
	var rotated bool
	started = time.Now()
	rec, err = l.backend.Update(ctx, userID, func(r *limits.UsageRecord) (bool, error) {
		rotated = r.Rotate(now, l.policy.WindowDuration)
		return rotated, nil
	})
	l.metrics.RecordLedgerOperation(l.backend.Name(), "rotate", started, err)
	if err != nil {
		return limits.UsageRecord{}, l.storageError("snapshot", userID, err)
	}
	if rotated {
		l.metrics.RecordRotation()
	}

	return *rec, nil
}

// TryDebit adds seconds to the user's consumption if they fit in the
// remaining quota. On denial the record is left untouched apart from a
// rotation that was due anyway.
//
// It returns the decision and the record as it stands afterwards.
func (l *Ledger) TryDebit(ctx context.Context, userID string, seconds int64) (limits.AdmissionDecision, limits.UsageRecord, error) {
	if userID == "" {
		return limits.AdmissionDecision{}, limits.UsageRecord{}, limits.ErrUserRequired
	}
	if seconds <= 0 {
		return limits.AdmissionDecision{}, limits.UsageRecord{},
			fmt.Errorf("%w: %d seconds", limits.ErrInvalidAmount, seconds)
	}

	now := l.now()
	var (
		decision limits.AdmissionDecision
		rotated  bool
	)

	started := time.Now()
	rec, err := l.backend.Update(ctx, userID, func(r *limits.UsageRecord) (bool, error) {
		rotated = r.Rotate(now, l.policy.WindowDuration)

		remaining := r.Remaining(l.policy)
		if seconds > remaining {
			decision = limits.AdmissionDecision{
				Allowed:          false,
				RemainingSeconds: remaining,
				Reason:           limits.ReasonWindowExhausted,
				WindowResetAt:    r.WindowEnd,
			}
			return rotated, nil
		}

		r.ConsumedSeconds += seconds
		r.RequestCount++
		r.UpdatedAt = now
		decision = limits.AdmissionDecision{
			Allowed:          true,
			RemainingSeconds: r.Remaining(l.policy),
			WindowResetAt:    r.WindowEnd,
		}
		return true, nil
	})
	l.metrics.RecordLedgerOperation(l.backend.Name(), "debit", started, err)
	if err != nil {
		return limits.AdmissionDecision{Allowed: false}, limits.UsageRecord{}, l.storageError("debit", userID, err)
	}

	if rotated {
		l.metrics.RecordRotation()
	}
	l.metrics.RecordDecision(limits.StageDebit, decision)
	if decision.Allowed {
		l.metrics.RecordDebit(seconds)
		l.logger.Debug("usage debited",
			"user", userID,
			"seconds", seconds,
			"consumed_seconds", rec.ConsumedSeconds,
			"remaining_seconds", decision.RemainingSeconds,
		)
	} else {
		l.logger.Info("debit denied, window exhausted",
			"user", userID,
			"seconds", seconds,
			"remaining_seconds", decision.RemainingSeconds,
		)
	}

	return decision, *rec, nil
}

// Drain charges whatever is left of the user's current window, leaving
// nothing to admit until it resets. It is used when delivered work turned out
// longer than the remaining quota. It returns the seconds charged and the
// record as it stands afterwards.
func (l *Ledger) Drain(ctx context.Context, userID string) (int64, limits.UsageRecord, error) {
	if userID == "" {
		return 0, limits.UsageRecord{}, limits.ErrUserRequired
	}

	now := l.now()
	var (
		charged int64
		rotated bool
	)

	started := time.Now()
	rec, err := l.backend.Update(ctx, userID, func(r *limits.UsageRecord) (bool, error) {
		rotated = r.Rotate(now, l.policy.WindowDuration)
		charged = r.Remaining(l.policy)
		if charged <= 0 {
			return rotated, nil
		}
		r.ConsumedSeconds += charged
		r.RequestCount++
		r.UpdatedAt = now
		return true, nil
	})
	l.metrics.RecordLedgerOperation(l.backend.Name(), "drain", started, err)
	if err != nil {
		return 0, limits.UsageRecord{}, l.storageError("drain", userID, err)
	}

	if rotated {
		l.metrics.RecordRotation()
	}
	if charged > 0 {
		l.metrics.RecordDebit(charged)
	}
	l.logger.Info("window drained",
		"user", userID,
		"seconds", charged,
		"consumed_seconds", rec.ConsumedSeconds,
	)

	return charged, *rec, nil
}

// Reset deletes the user's record. The next access starts a fresh window.
func (l *Ledger) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return limits.ErrUserRequired
	}

	started := time.Now()
	err := l.backend.Delete(ctx, userID)
	l.metrics.RecordLedgerOperation(l.backend.Name(), "delete", started, err)
	if err != nil {
		return l.storageError("reset", userID, err)
	}

	l.logger.Info("usage record reset", "user", userID)
	return nil
}

// List returns every stored record as it was last written. Stale records
// are returned unrotated.
func (l *Ledger) List(ctx context.Context) ([]limits.UsageRecord, error) {
	started := time.Now()
	recs, err := l.backend.List(ctx)
	l.metrics.RecordLedgerOperation(l.backend.Name(), "list", started, err)
	if err != nil {
		return nil, l.storageError("list", "", err)
	}

	out := make([]limits.UsageRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *rec)
	}
	return out, nil
}

// Prune deletes records whose window ended more than maxAge ago.
func (l *Ledger) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	started := time.Now()
	deleted, err := l.backend.Cleanup(ctx, l.now().Add(-maxAge))
	l.metrics.RecordLedgerOperation(l.backend.Name(), "cleanup", started, err)
	if err != nil {
		return deleted, l.storageError("prune", "", err)
	}
	return deleted, nil
}

// Ping checks the storage backend.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.backend.Ping(ctx); err != nil {
		return l.storageError("ping", "", err)
	}
	return nil
}

// storageError wraps backend failures as StorageUnavailable. Input
// validation errors pass through unchanged.
func (l *Ledger) storageError(op, userID string, err error) error {
	if errors.Is(err, storage.ErrEmptyUserID) || errors.Is(err, storage.ErrNilUpdate) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	l.logger.Error("ledger storage failure",
		"op", op,
		"user", userID,
		"backend", l.backend.Name(),
		"error", err,
	)
	return &limits.StorageError{Op: op, UserID: userID, Err: err}
}
