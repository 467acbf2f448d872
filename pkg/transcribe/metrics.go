package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumented records latency and failures of another Transcriber.
type Instrumented struct {
	next     Transcriber
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// Instrument wraps next with Prometheus metrics registered on reg.
func Instrument(next Transcriber, reg prometheus.Registerer) *Instrumented {
	factory := promauto.With(reg)
	return &Instrumented{
		next: next,
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicequota_transcription_duration_seconds",
			Help:    "Latency of calls to the transcription service",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicequota_transcription_errors_total",
			Help: "Failed calls to the transcription service",
		}, []string{"provider", "kind"}),
	}
}

// Name returns the wrapped transcriber's name.
func (i *Instrumented) Name() string { return i.next.Name() }

// Transcribe delegates to the wrapped transcriber.
func (i *Instrumented) Transcribe(ctx context.Context, audio []byte, language string) (*Result, error) {
	start := time.Now()
	res, err := i.next.Transcribe(ctx, audio, language)
	i.duration.WithLabelValues(i.next.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := "other"
		var se *ServiceError
		switch {
		case errors.As(err, &se):
			kind = se.Kind()
		case errors.Is(err, ErrEmptyAudio):
			kind = "invalid"
		}
		i.errors.WithLabelValues(i.next.Name(), kind).Inc()
	}
	return res, err
}
