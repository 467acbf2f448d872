// Package storage provides persistence backends for usage records.
//
// # Overview
//
// The storage package defines the interface the usage ledger persists
// records through and provides four implementations:
//
//   - Memory: in-process storage with one mutex per user (default, no persistence)
//   - SQLite: file-based persistence for single-instance deployments
//   - PostgreSQL: row-locked transactions for multi-instance deployments
//   - Redis: optimistic WATCH/MULTI transactions for multi-instance deployments
//
// # Atomic Updates
//
// Update is the only write path. It runs a caller-supplied function against
// the user's current record while updates for that user are serialized, and
// persists the result only if the function reports a change:
//
//	rec, err := backend.Update(ctx, "user-42", func(r *limits.UsageRecord) (bool, error) {
//	    if r.ConsumedSeconds+5 > 1800 {
//	        return false, nil
//	    }
//	    r.ConsumedSeconds += 5
//	    return true, nil
//	})
//
// The function may be invoked more than once by backends that use optimistic
// concurrency, so it must not have side effects outside the record.
//
// # Thread Safety
//
// All storage backends are thread-safe and support concurrent access
// from multiple goroutines. Locking is handled internally by each backend.
package storage
