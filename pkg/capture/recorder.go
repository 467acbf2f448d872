package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/voicequota/pkg/audio"
)

var (
	// ErrPermissionDenied means the platform refused microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrBusy means another recording session is still active.
	ErrBusy = errors.New("a recording is already in progress")

	// ErrNoAudio means recording ended without capturing any bytes.
	ErrNoAudio = errors.New("no audio captured")

	// ErrCancelled means the session was cancelled and its result discarded.
	ErrCancelled = errors.New("recording cancelled")

	// ErrNotProcessing means Submit was called without a finished clip.
	ErrNotProcessing = errors.New("no clip awaiting submission")
)

// Defaults for Config.
const (
	DefaultSilenceTimeout   = 3 * time.Second
	DefaultSilenceThreshold = 0.01
	DefaultSampleInterval   = 100 * time.Millisecond
	DefaultMaxDuration      = 120 * time.Second
)

// State is the recorder's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// StopReason says why a recording ended.
type StopReason int

const (
	StopManual StopReason = iota
	StopSilence
	StopMaxDuration
)

func (r StopReason) String() string {
	switch r {
	case StopManual:
		return "manual"
	case StopSilence:
		return "silence"
	case StopMaxDuration:
		return "max_duration"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Config bounds a recording session.
type Config struct {
	Format Format

	// SilenceTimeout is how long energy must stay below SilenceThreshold
	// before recording stops on its own.
	SilenceTimeout time.Duration

	// SilenceThreshold is the RMS level in [0,1] below which audio counts as silence.
	SilenceThreshold float64

	// SampleInterval is the energy sampling cadence.
	SampleInterval time.Duration

	// MaxDuration force-stops the recording.
	MaxDuration time.Duration
}

// DefaultConfig returns the 16 kHz mono configuration with default limits.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Format.SampleRate == 0 {
		c.Format.SampleRate = audio.SampleRate
	}
	if c.Format.Channels == 0 {
		c.Format.Channels = audio.Channels
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	return c
}

func (c Config) bytesPerSecond() int {
	return int(c.Format.SampleRate) * int(c.Format.Channels) * audio.BytesPerSample
}

// Clip is a finished recording.
type Clip struct {
	// WAV is the PCM wrapped in a WAV header.
	WAV []byte

	// Duration is the length of the captured audio.
	Duration time.Duration

	Reason StopReason

	// Notice is an informational message for the user, set when the hard
	// cap ended the recording.
	Notice string
}

// Status is reported to the observer on every sampling tick.
type Status struct {
	Elapsed time.Duration
	Level   float64
	Silence time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithObserver receives a Status on every tick. It runs on the sampling
// goroutine and must not block.
func WithObserver(fn func(Status)) Option {
	return func(r *Recorder) { r.observer = fn }
}

// Recorder owns the microphone for one session at a time.
type Recorder struct {
	src      Source
	cfg      Config
	clock    Clock
	logger   *slog.Logger
	observer func(Status)

	mu    sync.Mutex
	state State
	sess  *session
}

type session struct {
	stop       chan struct{}
	cancel     chan struct{}
	stopOnce   sync.Once
	cancelOnce sync.Once
}

func newSession() *session {
	return &session{stop: make(chan struct{}), cancel: make(chan struct{})}
}

func (s *session) requestStop()   { s.stopOnce.Do(func() { close(s.stop) }) }
func (s *session) requestCancel() { s.cancelOnce.Do(func() { close(s.cancel) }) }

// NewRecorder creates an idle Recorder over src.
func NewRecorder(src Source, cfg Config, opts ...Option) *Recorder {
	r := &Recorder{
		src:    src,
		cfg:    cfg.withDefaults(),
		clock:  realClock{},
		logger: slog.Default().With("component", "capture"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Recorder) Config() Config { return r.cfg }

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stop ends the current recording and keeps what was captured.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording && r.sess != nil {
		r.sess.requestStop()
	}
}

// Cancel abandons the current session. A recording is discarded and the
// microphone released. A submission already in flight is left to finish
// but its result is dropped.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return
	}
	r.sess.requestCancel()
	if r.state == StateProcessing {
		r.sess = nil
		r.state = StateIdle
	}
}

// Record captures one clip. It blocks until the recording stops and leaves
// the recorder in Processing on success; call Submit next. On any error the
// recorder returns to Idle.
func (r *Recorder) Record(ctx context.Context) (*Clip, error) {
	sess, err := r.begin()
	if err != nil {
		return nil, err
	}

	clip, err := r.record(ctx, sess)
	if err == nil {
		select {
		case <-sess.cancel:
			err = ErrCancelled
		default:
		}
	}
	if err != nil {
		r.finish(sess)
		return nil, err
	}

	r.mu.Lock()
	if r.sess == sess {
		r.state = StateProcessing
	}
	r.mu.Unlock()
	return clip, nil
}

func (r *Recorder) begin() (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return nil, ErrBusy
	}
	r.sess = newSession()
	r.state = StateRecording
	return r.sess, nil
}

func (r *Recorder) finish(sess *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == sess {
		r.sess = nil
		r.state = StateIdle
	}
}

func (r *Recorder) record(ctx context.Context, sess *session) (*Clip, error) {
	dev, err := r.src.Open(r.cfg.Format)
	if err != nil {
		r.logger.Warn("failed to open microphone", "error", err)
		return nil, err
	}
	defer dev.Close()

	var (
		mu    sync.Mutex
		pcm   []byte
		meter energyMeter
	)
	maxBytes := int(r.cfg.MaxDuration.Seconds() * float64(r.cfg.bytesPerSecond()))
	onData := func(data []byte, _ uint32) {
		mu.Lock()
		defer mu.Unlock()
		meter.add(data)
		if room := maxBytes - len(pcm); room > 0 {
			if len(data) > room {
				data = data[:room]
			}
			pcm = append(pcm, data...)
		}
	}

	if err := dev.Start(onData); err != nil {
		r.logger.Warn("failed to start microphone", "error", err)
		return nil, err
	}
	stopped := false
	stopDevice := func() {
		if stopped {
			return
		}
		stopped = true
		if err := dev.Stop(); err != nil {
			r.logger.Warn("failed to stop microphone", "error", err)
		}
	}
	defer stopDevice()

	start := r.clock.Now()
	detector := NewSilenceDetector(r.cfg.SilenceThreshold, r.cfg.SilenceTimeout, start)
	ticks, stopTicker := r.clock.Ticker(r.cfg.SampleInterval)
	defer stopTicker()
	r.logger.Debug("recording started")

	var reason StopReason
loop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sess.cancel:
			r.logger.Debug("recording cancelled")
			return nil, ErrCancelled
		case <-sess.stop:
			reason = StopManual
			break loop
		case now := <-ticks:
			mu.Lock()
			level := meter.take()
			mu.Unlock()

			elapsed := now.Sub(start)
			silent := detector.Observe(now, level)
			if r.observer != nil {
				r.observer(Status{Elapsed: elapsed, Level: level, Silence: detector.SilentFor(now)})
			}
			if elapsed >= r.cfg.MaxDuration {
				reason = StopMaxDuration
				break loop
			}
			if silent {
				reason = StopSilence
				break loop
			}
		}
	}
	stopDevice()

	mu.Lock()
	data := pcm
	mu.Unlock()

	if len(data) == 0 {
		r.logger.Info("recording ended with no audio", "reason", reason.String())
		return nil, ErrNoAudio
	}

	clip := &Clip{
		WAV:      audio.EncodeWAV(data, r.cfg.Format.SampleRate, uint16(r.cfg.Format.Channels)),
		Duration: time.Duration(len(data)) * time.Second / time.Duration(r.cfg.bytesPerSecond()),
		Reason:   reason,
	}
	if reason == StopMaxDuration {
		clip.Notice = fmt.Sprintf("Recording stopped at the %s limit.", formatLimit(r.cfg.MaxDuration))
	}
	r.logger.Info("recording finished",
		"reason", reason.String(),
		"duration_ms", clip.Duration.Milliseconds(),
		"bytes", len(clip.WAV),
	)
	return clip, nil
}

// Submit performs the single network round trip for a clip returned by
// Record and returns the recorder to Idle. send is never retried. If the
// session is cancelled first, Submit returns ErrCancelled right away and
// the result of send is discarded when it arrives.
func Submit[T any](ctx context.Context, r *Recorder, clip *Clip, send func(context.Context, *Clip) (T, error)) (T, error) {
	var zero T

	r.mu.Lock()
	sess := r.sess
	if r.state != StateProcessing || sess == nil {
		r.mu.Unlock()
		return zero, ErrNotProcessing
	}
	r.mu.Unlock()
	defer r.finish(sess)

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := send(ctx, clip)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-sess.cancel:
		return zero, ErrCancelled
	}
}

func formatLimit(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minute", int(d/time.Minute))
	}
	return d.String()
}
