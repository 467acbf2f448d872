package indicator

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorNominal = lipgloss.AdaptiveColor{Light: "#38A169", Dark: "#48BB78"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#D69E2E", Dark: "#F6E05E"}
	colorAlert   = lipgloss.AdaptiveColor{Light: "#E53E3E", Dark: "#FC8181"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#718096", Dark: "#A0AEC0"}

	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	boldStyle  = lipgloss.NewStyle().Bold(true)
)

// BarWidth is the number of cells in the usage bar.
const BarWidth = 20

func tierStyle(t Tier) lipgloss.Style {
	switch t {
	case TierAlert:
		return lipgloss.NewStyle().Foreground(colorAlert)
	case TierWarning:
		return lipgloss.NewStyle().Foreground(colorWarning)
	default:
		return lipgloss.NewStyle().Foreground(colorNominal)
	}
}

// Render draws the indicator as a single line:
//
//	Voice ████████░░░░ 12m remaining · resets in 3h 20m
func Render(v View, now time.Time) string {
	s := v.Snapshot
	if s == nil {
		if v.Err != nil {
			return tierStyle(TierAlert).Render("Voice usage unavailable: " + v.Err.Error())
		}
		return mutedStyle.Render("Voice usage loading…")
	}

	style := tierStyle(TierOf(s))
	var b strings.Builder
	b.WriteString(boldStyle.Render("Voice"))
	b.WriteString(" ")
	b.WriteString(style.Render(bar(PercentRemaining(s), BarWidth)))
	b.WriteString(" ")
	b.WriteString(style.Render(RemainingLabel(s)))

	if countdown := Countdown(ResetAt(s), now); countdown != "" {
		if countdown == ResettingLabel {
			b.WriteString(mutedStyle.Render(" · " + ResettingLabel))
		} else {
			b.WriteString(mutedStyle.Render(" · resets in " + countdown))
		}
	}
	if Disabled(s) {
		reason := s.Limits.Reason
		if reason == "" {
			reason = "quota exhausted"
		}
		b.WriteString(style.Render(fmt.Sprintf(" · voice input disabled (%s)", reason)))
	}
	if v.Stale {
		b.WriteString(mutedStyle.Render(" · stale"))
	}
	return b.String()
}

// bar draws filled cells for the remaining share.
func bar(percent float64, width int) string {
	filled := int(percent/100*float64(width) + 0.5)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
