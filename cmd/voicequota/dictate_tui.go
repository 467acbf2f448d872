package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mercator-hq/voicequota/pkg/api/types"
	"mercator-hq/voicequota/pkg/capture"
	"mercator-hq/voicequota/pkg/indicator"
)

type dictatePhase int

const (
	phaseRecording dictatePhase = iota
	phaseProcessing
	phaseDone
)

// Messages delivered to the model.
type (
	statusMsg capture.Status
	clipMsg   struct {
		clip *capture.Clip
		err  error
	}
	resultMsg struct {
		resp *types.TranscribeResponse
		err  error
	}
	redrawMsg time.Time
)

var (
	recStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	busyStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0891b2", Dark: "#22d3ee"})
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9ca3af", Dark: "#6b7280"})
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#d97706", Dark: "#fbbf24"})
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type dictateModel struct {
	ctx   context.Context
	d     *dictation
	phase dictatePhase

	status capture.Status
	frame  int
	notice string

	resp *types.TranscribeResponse
	err  error
}

func newDictateModel(ctx context.Context, d *dictation) dictateModel {
	return dictateModel{ctx: ctx, d: d}
}

func redraw() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return redrawMsg(t) })
}

func (m dictateModel) record() tea.Msg {
	clip, err := m.d.rec.Record(m.ctx)
	return clipMsg{clip: clip, err: err}
}

func (m dictateModel) submit(clip *capture.Clip) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.d.submit(m.ctx, clip)
		return resultMsg{resp: resp, err: err}
	}
}

func (m dictateModel) Init() tea.Cmd {
	return tea.Batch(m.record, redraw())
}

func (m dictateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", " ":
			if m.phase == phaseRecording {
				m.d.rec.Stop()
			}
		case "esc", "ctrl+c", "q":
			m.d.rec.Cancel()
			m.err = capture.ErrCancelled
			m.phase = phaseDone
			return m, tea.Quit
		}

	case statusMsg:
		m.status = capture.Status(msg)

	case clipMsg:
		if msg.err != nil {
			m.err = msg.err
			m.phase = phaseDone
			return m, tea.Quit
		}
		m.notice = msg.clip.Notice
		m.phase = phaseProcessing
		return m, m.submit(msg.clip)

	case resultMsg:
		m.resp, m.err = msg.resp, msg.err
		m.phase = phaseDone
		return m, tea.Quit

	case redrawMsg:
		m.frame++
		if m.phase == phaseDone {
			return m, nil
		}
		return m, redraw()
	}
	return m, nil
}

func (m dictateModel) View() string {
	var b strings.Builder

	switch m.phase {
	case phaseRecording:
		b.WriteString(recStyle.Render(fmt.Sprintf("● REC %4.1fs", m.status.Elapsed.Seconds())))
		b.WriteString(" ")
		b.WriteString(levelBar(m.status.Level, 20))
		if m.status.Silence >= time.Second {
			b.WriteString(hintStyle.Render(fmt.Sprintf("  silent %.0fs", m.status.Silence.Seconds())))
		}
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("enter: stop · esc: cancel"))
	case phaseProcessing:
		b.WriteString(busyStyle.Render(spinnerFrames[m.frame%len(spinnerFrames)] + " Transcribing…"))
		if m.notice != "" {
			b.WriteString("\n")
			b.WriteString(noticeStyle.Render(m.notice))
		}
		b.WriteString("\n")
		b.WriteString(hintStyle.Render("esc: discard result"))
	case phaseDone:
		if m.notice != "" {
			b.WriteString(noticeStyle.Render(m.notice))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(indicator.Render(m.d.poller.View(), time.Now()))
	b.WriteString("\n")
	return b.String()
}

func levelBar(level float64, width int) string {
	// Speech RMS rarely exceeds 0.3; scale so normal speech fills the bar.
	n := int(level / 0.3 * float64(width))
	if n > width {
		n = width
	}
	if n < 0 {
		n = 0
	}
	return busyStyle.Render(strings.Repeat("▮", n)) + hintStyle.Render(strings.Repeat("▯", width-n))
}

// runDictateTUI runs one dictation with an interactive view on stderr.
func runDictateTUI(ctx context.Context, d *dictation, src capture.Source, capCfg capture.Config) (*types.TranscribeResponse, error) {
	p := tea.NewProgram(newDictateModel(ctx, d), tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	d.rec = capture.NewRecorder(src, capCfg,
		capture.WithLogger(slog.Default().With("component", "capture")),
		capture.WithObserver(func(s capture.Status) { p.Send(statusMsg(s)) }),
	)

	final, err := p.Run()
	if err != nil {
		d.rec.Cancel()
		return nil, err
	}
	m := final.(dictateModel)
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}
