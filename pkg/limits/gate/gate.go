// Package gate performs the advisory pre-flight admission check that runs
// before a transcription is paid for.
//
// The gate reads the ledger but never writes consumption. Its decision is
// not linearized with the later debit: a request admitted here may still be
// denied by the ledger if a concurrent request used up the window first.
package gate

import (
	"context"
	"log/slog"

	"mercator-hq/voicequota/pkg/limits"
)

// Snapshotter is the part of the ledger the gate depends on.
type Snapshotter interface {
	Snapshot(ctx context.Context, userID string) (limits.UsageRecord, error)
	Policy() limits.QuotaPolicy
}

// Gate decides admission from the ledger's current snapshot.
type Gate struct {
	ledger  Snapshotter
	metrics *limits.Metrics
	logger  *slog.Logger
}

// New creates a gate over ledger. metrics may be nil.
func New(ledger Snapshotter, metrics *limits.Metrics) *Gate {
	return &Gate{
		ledger:  ledger,
		metrics: metrics,
		logger:  slog.Default().With("component", "limits.gate"),
	}
}

// CheckAdmission reports whether a request of estimatedSeconds may proceed.
// It returns the decision together with the snapshot it was computed from.
//
// If the ledger cannot be read the decision is a denial and the error
// matches limits.ErrStorageUnavailable.
func (g *Gate) CheckAdmission(ctx context.Context, userID string, estimatedSeconds int64) (limits.AdmissionDecision, limits.UsageRecord, error) {
	rec, err := g.ledger.Snapshot(ctx, userID)
	if err != nil {
		return limits.AdmissionDecision{Allowed: false}, limits.UsageRecord{}, err
	}

	decision := limits.Decide(rec, g.ledger.Policy(), estimatedSeconds)
	g.metrics.RecordDecision(limits.StagePreflight, decision)

	if !decision.Allowed {
		g.logger.Info("admission denied",
			"user", userID,
			"estimated_seconds", estimatedSeconds,
			"remaining_seconds", decision.RemainingSeconds,
			"reason", decision.Reason.String(),
		)
	}

	return decision, rec, nil
}
