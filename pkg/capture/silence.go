package capture

import (
	"encoding/binary"
	"math"
	"time"
)

// SilenceDetector tracks how long energy has stayed below a threshold.
// Observations arrive on a fixed cadence; each one covers the interval since
// the previous observation.
type SilenceDetector struct {
	threshold float64
	timeout   time.Duration

	last   time.Time
	since  time.Time
	silent bool
}

// NewSilenceDetector creates a detector whose first interval starts at start.
func NewSilenceDetector(threshold float64, timeout time.Duration, start time.Time) *SilenceDetector {
	return &SilenceDetector{threshold: threshold, timeout: timeout, last: start}
}

// Observe records the energy of the interval ending at now and reports
// whether silence has lasted the full timeout. Any energy at or above the
// threshold clears the timer.
func (d *SilenceDetector) Observe(now time.Time, energy float64) bool {
	defer func() { d.last = now }()

	if energy >= d.threshold {
		d.silent = false
		return false
	}
	if !d.silent {
		d.silent = true
		d.since = d.last
	}
	return now.Sub(d.since) >= d.timeout
}

// SilentFor returns how long the current silence has lasted as of now.
func (d *SilenceDetector) SilentFor(now time.Time) time.Duration {
	if !d.silent {
		return 0
	}
	return now.Sub(d.since)
}

// energyMeter accumulates RMS energy over 16-bit PCM frames.
type energyMeter struct {
	sumSquares float64
	samples    int
}

func (m *energyMeter) add(data []byte) {
	for i := 0; i+1 < len(data); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(data[i:]))) / 32768.0
		m.sumSquares += s * s
	}
	m.samples += len(data) / 2
}

// take returns the RMS level in [0,1] since the last take and resets.
func (m *energyMeter) take() float64 {
	if m.samples == 0 {
		return 0
	}
	rms := math.Sqrt(m.sumSquares / float64(m.samples))
	m.sumSquares, m.samples = 0, 0
	return rms
}
