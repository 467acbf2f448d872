// Package limits provides voice-minute quota accounting for transcription requests.
//
// # Overview
//
// Every authenticated user owns one usage record per accounting window. The
// record tracks how many seconds of audio were transcribed and how many
// transcription calls completed. The window is rolling and per-user: it
// starts the first time the ledger sees the user and is rotated lazily once
// its end has passed.
//
//   - Usage ledger (per-user records, atomic debits, lazy rotation)
//   - Quota gate (advisory pre-flight admission)
//   - Storage backends (memory, SQLite, PostgreSQL, Redis)
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ledger: authoritative accounting, the only writer of usage records
//   - gate: pre-flight admission checks that never debit
//   - storage: persistence backends with per-user serialized updates
//
// This package holds the shared value types (QuotaPolicy, UsageRecord,
// AdmissionDecision) and the pure decision functions used by both the ledger
// and the gate.
//
// # Usage
//
//	backend := storage.NewMemoryBackend()
//	l, err := ledger.New(backend, policy)
//	if err != nil {
//	    return err
//	}
//
//	// Advisory check before expensive work
//	decision, _, err := gate.New(l).CheckAdmission(ctx, "user-42", 12)
//
//	// Authoritative debit with the measured duration
//	decision, record, err := l.TryDebit(ctx, "user-42", 11)
//
// # Thread Safety
//
// Debits for the same user are linearized by the storage backend. Operations
// for different users never share a lock.
package limits
