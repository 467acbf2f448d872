package transcribe

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Transcriber for tests and dry runs.
type Fake struct {
	Text     string
	Duration time.Duration
	Err      error

	// Delay blocks each call for this long or until ctx is done.
	Delay time.Duration

	mu    sync.Mutex
	calls int
}

// NewFake returns a Fake that answers every call with text and duration.
func NewFake(text string, duration time.Duration, err error) *Fake {
	return &Fake{Text: text, Duration: duration, Err: err}
}

// Name returns "fake".
func (f *Fake) Name() string { return "fake" }

// Transcribe returns the configured result.
func (f *Fake) Transcribe(ctx context.Context, audio []byte, language string) (*Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, &ServiceError{Provider: "fake", Retryable: true, Err: ctx.Err()}
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &Result{Text: f.Text, Language: language, Duration: f.Duration, Provider: "fake"}, nil
}

// Calls returns how many times Transcribe was invoked.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
