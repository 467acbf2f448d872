package indicator

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"mercator-hq/voicequota/pkg/api/types"
)

// Tier is the colour band of the indicator.
type Tier int

const (
	TierNominal Tier = iota
	TierWarning
	TierAlert
)

func (t Tier) String() string {
	switch t {
	case TierNominal:
		return "nominal"
	case TierWarning:
		return "warning"
	case TierAlert:
		return "alert"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Tier thresholds on percent of quota remaining.
const (
	AlertPercent   = 10.0
	WarningPercent = 30.0
)

// ResettingLabel is shown once the reset time has passed but no fresh
// snapshot has arrived yet.
const ResettingLabel = "resetting"

// PercentRemaining returns the remaining share of the window quota.
func PercentRemaining(s *types.UsageResponse) float64 {
	if s == nil || s.Limits.MaxMinutes <= 0 {
		return 0
	}
	p := s.Limits.RemainingMinutes * 100 / s.Limits.MaxMinutes
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// TierOf derives the colour tier.
func TierOf(s *types.UsageResponse) Tier {
	if s == nil {
		return TierNominal
	}
	if !s.Limits.Allowed {
		return TierAlert
	}
	switch p := PercentRemaining(s); {
	case p <= AlertPercent:
		return TierAlert
	case p <= WarningPercent:
		return TierWarning
	default:
		return TierNominal
	}
}

// Disabled reports whether voice input should be blocked. It mirrors the
// server's admission flag and nothing else.
func Disabled(s *types.UsageResponse) bool {
	return s != nil && !s.Limits.Allowed
}

// ResetAt returns the window reset time of the snapshot.
func ResetAt(s *types.UsageResponse) time.Time {
	if s == nil || s.ResetsAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ResetsAt)
}

// Countdown formats the time until resetAt as "Xh Ym", "Ym" or "<1m", and
// ResettingLabel once resetAt has passed. It is recomputed on every render.
func Countdown(resetAt, now time.Time) string {
	if resetAt.IsZero() {
		return ""
	}
	d := resetAt.Sub(now)
	if d <= 0 {
		return ResettingLabel
	}
	if d < time.Minute {
		return "<1m"
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// RemainingLabel renders remaining minutes, e.g. "12m remaining" or
// "4.5m remaining".
func RemainingLabel(s *types.UsageResponse) string {
	if s == nil {
		return ""
	}
	return formatMinutes(s.Limits.RemainingMinutes) + "m remaining"
}

func formatMinutes(m float64) string {
	if m < 0 {
		m = 0
	}
	return strconv.FormatFloat(math.Round(m*10)/10, 'f', -1, 64)
}
