package handlers

import (
	"context"
	"net/http"

	"mercator-hq/voicequota/pkg/api/types"
	"mercator-hq/voicequota/pkg/limits"
	"mercator-hq/voicequota/pkg/security/auth"
)

// UsageReader is the read side of the ledger.
type UsageReader interface {
	Snapshot(ctx context.Context, userID string) (limits.UsageRecord, error)
	Policy() limits.QuotaPolicy
}

// UsageHandler serves the caller's usage snapshot.
type UsageHandler struct {
	ledger UsageReader
}

// NewUsageHandler creates a usage handler.
func NewUsageHandler(ledger UsageReader) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

// ServeHTTP implements http.Handler.
func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		types.WriteError(w, types.FromError(limits.ErrUserRequired))
		return
	}

	rec, err := h.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		types.WriteError(w, types.FromError(err))
		return
	}

	policy := h.ledger.Policy()
	types.SetQuotaHeaders(w, rec, policy)
	w.Header().Set("Cache-Control", "no-store")
	types.WriteJSON(w, http.StatusOK, types.NewUsageResponse(rec, policy))
}
