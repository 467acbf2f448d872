package types

import (
	"math"
	"time"

	"mercator-hq/voicequota/pkg/limits"
)

// UsageResponse is the usage snapshot returned to clients.
type UsageResponse struct {
	Usage  UsageStats  `json:"usage"`
	Limits LimitStatus `json:"limits"`

	// ResetsAt is the window end in epoch milliseconds.
	ResetsAt int64 `json:"resetsAt"`
}

// UsageStats is consumption in the current window.
type UsageStats struct {
	Minutes     float64 `json:"minutes"`
	Requests    int64   `json:"requests"`
	PercentUsed float64 `json:"percentUsed"`
}

// LimitStatus is the standing admission state for the current window.
type LimitStatus struct {
	MaxMinutes       float64 `json:"maxMinutes"`
	RemainingMinutes float64 `json:"remainingMinutes"`
	Allowed          bool    `json:"allowed"`
	Reason           string  `json:"reason,omitempty"`
}

// NewUsageResponse derives the response for rec under policy.
func NewUsageResponse(rec limits.UsageRecord, policy limits.QuotaPolicy) *UsageResponse {
	status := limits.StatusOf(rec, policy)
	return &UsageResponse{
		Usage: UsageStats{
			Minutes:     Minutes(rec.ConsumedSeconds),
			Requests:    rec.RequestCount,
			PercentUsed: math.Round(rec.PercentUsed(policy)*10) / 10,
		},
		Limits: LimitStatus{
			MaxMinutes:       Minutes(policy.MaxSecondsPerWindow),
			RemainingMinutes: Minutes(status.RemainingSeconds),
			Allowed:          status.Allowed,
			Reason:           status.Reason.String(),
		},
		ResetsAt: EpochMillis(rec.WindowEnd),
	}
}

// Minutes converts seconds to minutes rounded to one decimal.
func Minutes(seconds int64) float64 {
	return math.Round(float64(seconds)/6) / 10
}

// EpochMillis returns t in epoch milliseconds, 0 for the zero time.
func EpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
