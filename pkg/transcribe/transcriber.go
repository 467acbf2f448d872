package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyAudio is returned when Transcribe is called without audio.
var ErrEmptyAudio = errors.New("empty audio")

// Result is a completed transcription.
type Result struct {
	Text string

	// Language is the language the provider detected or was told to use.
	Language string

	// Duration is the audio length reported by the provider. Zero when the
	// provider did not report one.
	Duration time.Duration

	Provider string
}

// Transcriber converts audio to text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, language string) (*Result, error)
}

// ServiceError is a failed call to the transcription service.
type ServiceError struct {
	// Provider is the name of the service that failed.
	Provider string

	// StatusCode is the HTTP status returned, 0 if no response was received.
	StatusCode int

	// Message is the provider's error message when one could be parsed.
	Message string

	// Retryable reports whether the same request may succeed later.
	Retryable bool

	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("transcription provider %q error (status %d): %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("transcription provider %q error: %s", e.Provider, msg)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call ran out of time.
func (e *ServiceError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Kind classifies the error for metrics.
func (e *ServiceError) Kind() string {
	switch {
	case e.Timeout():
		return "timeout"
	case e.StatusCode == 0:
		return "network"
	case e.StatusCode == 429:
		return "rate_limited"
	case e.StatusCode == 401 || e.StatusCode == 403:
		return "auth"
	case e.StatusCode >= 500:
		return "server"
	default:
		return "client"
	}
}

// retryableStatus reports whether a provider status is worth retrying later.
func retryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
