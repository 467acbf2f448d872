package limits

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Reason explains why an admission decision denied a request.
type Reason string

const (
	// ReasonNone means the request was admitted.
	ReasonNone Reason = ""

	// ReasonWindowExhausted means the request does not fit in the remaining
	// quota of the current window.
	ReasonWindowExhausted Reason = "window_exhausted"

	// ReasonRequestTooLong means a single clip exceeds the per-request cap.
	ReasonRequestTooLong Reason = "request_too_long"
)

// String returns the wire form of the reason.
func (r Reason) String() string {
	return string(r)
}

// QuotaPolicy is the process-wide quota configuration.
// It is loaded once at startup and never mutated afterwards.
type QuotaPolicy struct {
	// MaxSecondsPerWindow is the number of audio seconds a user may consume
	// in one accounting window.
	MaxSecondsPerWindow int64

	// WindowDuration is the length of an accounting window.
	WindowDuration time.Duration

	// MaxSingleRequestSeconds caps the length of a single clip.
	MaxSingleRequestSeconds int64
}

// Validate checks that the policy can be enforced.
func (p QuotaPolicy) Validate() error {
	if p.MaxSecondsPerWindow <= 0 {
		return fmt.Errorf("%w: max seconds per window must be positive, got %d",
			ErrInvalidPolicy, p.MaxSecondsPerWindow)
	}
	if p.WindowDuration <= 0 {
		return fmt.Errorf("%w: window duration must be positive, got %s",
			ErrInvalidPolicy, p.WindowDuration)
	}
	if p.MaxSingleRequestSeconds <= 0 {
		return fmt.Errorf("%w: max single request seconds must be positive, got %d",
			ErrInvalidPolicy, p.MaxSingleRequestSeconds)
	}
	return nil
}

// UsageRecord is the consumption of one user within one accounting window.
type UsageRecord struct {
	// UserID is the opaque identity reference issued by the identity provider.
	UserID string

	// WindowStart is when the current window began.
	WindowStart time.Time

	// WindowEnd is when usage resets. A record is stale once now >= WindowEnd.
	WindowEnd time.Time

	// ConsumedSeconds never decreases within a window.
	ConsumedSeconds int64

	// RequestCount is the number of completed transcriptions in the window.
	RequestCount int64

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// Expired reports whether the record's window has ended at now.
// A record that was never initialized is always expired.
func (r *UsageRecord) Expired(now time.Time) bool {
	if r.WindowEnd.IsZero() {
		return true
	}
	return !now.Before(r.WindowEnd)
}

// Rotate starts a fresh window at now if the current one has ended.
// It returns true if the record was modified. Rotating a fresh record is a
// no-op, so concurrent rotations of the same stale window converge.
func (r *UsageRecord) Rotate(now time.Time, window time.Duration) bool {
	if !r.Expired(now) {
		return false
	}
	r.WindowStart = now
	r.WindowEnd = now.Add(window)
	r.ConsumedSeconds = 0
	r.RequestCount = 0
	r.UpdatedAt = now
	return true
}

// Remaining returns the seconds left in the window under policy.
// It never returns a negative value.
func (r *UsageRecord) Remaining(policy QuotaPolicy) int64 {
	remaining := policy.MaxSecondsPerWindow - r.ConsumedSeconds
	if remaining < 0 {
		return 0
	}
	return remaining
}

// PercentUsed returns consumed seconds as a percentage of the window quota.
func (r *UsageRecord) PercentUsed(policy QuotaPolicy) float64 {
	if policy.MaxSecondsPerWindow <= 0 {
		return 0
	}
	pct := float64(r.ConsumedSeconds) / float64(policy.MaxSecondsPerWindow) * 100
	return math.Min(pct, 100)
}

// AdmissionDecision is the transient result of an admission check or debit.
// It is never persisted.
type AdmissionDecision struct {
	// Allowed is true if the request may proceed (or was debited).
	Allowed bool

	// RemainingSeconds is the quota left after the decision.
	RemainingSeconds int64

	// Reason is set when Allowed is false.
	Reason Reason

	// WindowResetAt is when the current window ends.
	WindowResetAt time.Time
}

// Decide computes the admission decision for a request of the given number
// of seconds against record. It is a pure function of its inputs.
//
// A request longer than the single-request cap is reported as
// ReasonRequestTooLong even when it would also exhaust the window, because
// shortening the clip is the only thing the user can do about it.
func Decide(record UsageRecord, policy QuotaPolicy, seconds int64) AdmissionDecision {
	remaining := record.Remaining(policy)
	decision := AdmissionDecision{
		Allowed:          true,
		RemainingSeconds: remaining,
		WindowResetAt:    record.WindowEnd,
	}

	switch {
	case seconds > policy.MaxSingleRequestSeconds:
		decision.Allowed = false
		decision.Reason = ReasonRequestTooLong
	case seconds > remaining:
		decision.Allowed = false
		decision.Reason = ReasonWindowExhausted
	}

	return decision
}

// StatusOf returns the standing decision for a record: whether any further
// request can currently be admitted.
func StatusOf(record UsageRecord, policy QuotaPolicy) AdmissionDecision {
	remaining := record.Remaining(policy)
	decision := AdmissionDecision{
		Allowed:          remaining > 0,
		RemainingSeconds: remaining,
		WindowResetAt:    record.WindowEnd,
	}
	if !decision.Allowed {
		decision.Reason = ReasonWindowExhausted
	}
	return decision
}

// BilledSeconds converts a measured duration into whole billable seconds.
// Any started second is billed and every transcription bills at least one.
func BilledSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Error types for quota accounting.
var (
	// ErrStorageUnavailable is returned when the ledger's storage cannot be
	// reached. Callers must treat it as a denial.
	ErrStorageUnavailable = errors.New("usage storage unavailable")

	// ErrInvalidAmount is returned when a debit amount is not positive.
	ErrInvalidAmount = errors.New("invalid debit amount")

	// ErrUserRequired is returned when an operation is called without a user.
	ErrUserRequired = errors.New("user identifier required")

	// ErrInvalidPolicy is returned when a quota policy cannot be enforced.
	ErrInvalidPolicy = errors.New("invalid quota policy")
)

// StorageError wraps a backend failure. It matches ErrStorageUnavailable
// with errors.Is and unwraps to the backend's own error.
type StorageError struct {
	// Op is the ledger operation that failed (snapshot, debit, reset).
	Op string

	// UserID is the user the operation was for, if any.
	UserID string

	// Err is the backend error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("%s: %v: %v", e.Op, ErrStorageUnavailable, e.Err)
	}
	return fmt.Sprintf("%s for %s: %v: %v", e.Op, e.UserID, ErrStorageUnavailable, e.Err)
}

// Unwrap returns the underlying error for error wrapping.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStorageUnavailable.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageUnavailable
}
