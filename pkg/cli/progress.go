package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LevelMeter draws a single self-overwriting line with the recording time
// and input level. It is the plain-terminal counterpart of the dictate TUI.
type LevelMeter struct {
	mu     sync.Mutex
	writer io.Writer
	width  int
	drawn  bool
}

// NewLevelMeter creates a meter that writes to w, or stderr if w is nil.
func NewLevelMeter(w io.Writer) *LevelMeter {
	if w == nil {
		w = os.Stderr
	}
	return &LevelMeter{writer: w, width: 20}
}

// Update redraws the line. level is an RMS value in [0,1].
func (m *LevelMeter) Update(elapsed time.Duration, level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The bar is full at 0.3 RMS.
	filled := int(level / 0.3 * float64(m.width))
	if filled > m.width {
		filled = m.width
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("▮", filled) + strings.Repeat("▯", m.width-filled)
	fmt.Fprintf(m.writer, "\r● REC %5.1fs %s", elapsed.Seconds(), bar)
	m.drawn = true
}

// Finish ends the meter line with msg.
func (m *LevelMeter) Finish(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.drawn {
		fmt.Fprint(m.writer, "\r\033[K")
	}
	if msg != "" {
		fmt.Fprintln(m.writer, msg)
	}
	m.drawn = false
}
