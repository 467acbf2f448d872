package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/voicequota/pkg/api/types"
	"mercator-hq/voicequota/pkg/audio"
	"mercator-hq/voicequota/pkg/limits"
	"mercator-hq/voicequota/pkg/limits/ratelimit"
	"mercator-hq/voicequota/pkg/security/auth"
	"mercator-hq/voicequota/pkg/telemetry/tracing"
	"mercator-hq/voicequota/pkg/transcribe"
)

// Defaults for TranscribeConfig.
const (
	DefaultMaxUploadBytes = 25 << 20
	DefaultDebitTimeout   = 5 * time.Second

	maxFormMemory = 8 << 20

	accountingLossWarning = "usage for this request could not be recorded"
	overQuotaWarning      = "voice quota is used up; further recordings are blocked until the window resets"
)

// Admitter is the pre-flight admission check.
type Admitter interface {
	CheckAdmission(ctx context.Context, userID string, estimatedSeconds int64) (limits.AdmissionDecision, limits.UsageRecord, error)
}

// Debitor is the write side of the ledger.
type Debitor interface {
	TryDebit(ctx context.Context, userID string, seconds int64) (limits.AdmissionDecision, limits.UsageRecord, error)
	Drain(ctx context.Context, userID string) (int64, limits.UsageRecord, error)
	Policy() limits.QuotaPolicy
}

// TranscribeConfig configures the transcription handler.
type TranscribeConfig struct {
	// MaxUploadBytes caps the request body.
	MaxUploadBytes int64

	// SupportedLanguages lists accepted language hints. Empty accepts any.
	SupportedLanguages []string

	// DebitTimeout bounds the post-transcription debit. The debit runs even
	// when the client has gone away.
	DebitTimeout time.Duration

	// MaxInFlight and MaxInFlightPerUser cap concurrent transcriptions.
	// Zero or less means no cap.
	MaxInFlight        int
	MaxInFlightPerUser int
}

// TranscribeHandler serves POST /api/transcribe.
type TranscribeHandler struct {
	gate        Admitter
	ledger      Debitor
	transcriber transcribe.Transcriber
	metrics     *limits.Metrics
	languages   map[string]bool
	maxUpload   int64
	debitTTL    time.Duration
	inFlight    *ratelimit.ConcurrentLimiter
	perUser     *ratelimit.KeyedLimiter
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// NewTranscribeHandler creates a transcription handler. metrics may be nil.
func NewTranscribeHandler(gate Admitter, ledger Debitor, t transcribe.Transcriber, metrics *limits.Metrics, cfg TranscribeConfig) *TranscribeHandler {
	h := &TranscribeHandler{
		gate:        gate,
		ledger:      ledger,
		transcriber: t,
		metrics:     metrics,
		maxUpload:   cfg.MaxUploadBytes,
		debitTTL:    cfg.DebitTimeout,
		inFlight:    ratelimit.NewConcurrentLimiter(cfg.MaxInFlight),
		perUser:     ratelimit.NewKeyedLimiter(cfg.MaxInFlightPerUser),
		tracer:      otel.Tracer(tracing.InstrumentationName + "/api"),
		logger:      slog.Default().With("component", "api.transcribe"),
		now:         time.Now,
	}
	if h.maxUpload <= 0 {
		h.maxUpload = DefaultMaxUploadBytes
	}
	if h.debitTTL <= 0 {
		h.debitTTL = DefaultDebitTimeout
	}
	if len(cfg.SupportedLanguages) > 0 {
		h.languages = make(map[string]bool, len(cfg.SupportedLanguages))
		for _, lang := range cfg.SupportedLanguages {
			h.languages[strings.ToLower(lang)] = true
		}
	}
	return h
}

// transcribeRequest is a parsed upload.
type transcribeRequest struct {
	audio    []byte
	language string
	claimed  time.Duration
	measured time.Duration
}

// ServeHTTP implements http.Handler.
func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)
	if userID == "" {
		types.WriteError(w, types.FromError(limits.ErrUserRequired))
		return
	}

	release, ok := h.perUser.Acquire(userID)
	if !ok {
		types.WriteError(w, types.NewErrorResponse(http.StatusTooManyRequests, types.CodeRateLimited,
			"another transcription for this user is still in progress"))
		return
	}
	defer release()
	if !h.inFlight.Acquire() {
		w.Header().Set("Retry-After", "1")
		types.WriteError(w, types.NewErrorResponse(http.StatusServiceUnavailable, types.CodeRateLimited,
			"transcription capacity exhausted, retry shortly"))
		return
	}
	defer h.inFlight.Release()

	req, err := h.parse(w, r)
	if err != nil {
		types.WriteError(w, types.FromError(err))
		return
	}

	policy := h.ledger.Policy()
	estimated := limits.BilledSeconds(max(req.claimed, req.measured))

	// Pre-flight. Advisory only: the debit below is authoritative.
	decision, snapshot, err := h.admit(ctx, userID, estimated)
	if err != nil {
		types.WriteError(w, types.FromError(err))
		return
	}
	if !decision.Allowed {
		types.SetQuotaHeaders(w, snapshot, policy)
		if decision.Reason == limits.ReasonWindowExhausted {
			types.SetRetryAfter(w, h.now(), decision.WindowResetAt)
		}
		types.WriteError(w, types.NewAdmissionDenied(decision))
		return
	}

	result, err := h.call(ctx, req)
	if err != nil {
		h.logger.Warn("transcription failed",
			"user", userID,
			"provider", h.transcriber.Name(),
			"error", err,
		)
		types.WriteError(w, types.FromError(err))
		return
	}

	billed := limits.BilledSeconds(measuredDuration(result, req.audio))
	resp := &types.TranscribeResponse{
		Text:     result.Text,
		Language: result.Language,
	}

	debit, rec, err := h.debit(ctx, userID, billed)
	switch {
	case err != nil:
		h.logger.Error("accounting loss",
			"user", userID,
			"seconds", billed,
			"error", err,
		)
		h.metrics.RecordAccountingLoss()
		resp.Warning = accountingLossWarning
		rec = snapshot
	case !debit.Allowed:
		resp.OverQuota = true
		charged, drained, err := h.drain(ctx, userID)
		if err != nil {
			h.logger.Error("accounting loss",
				"user", userID,
				"seconds", debit.RemainingSeconds,
				"error", err,
			)
			h.metrics.RecordAccountingLoss()
			resp.Warning = accountingLossWarning
			break
		}
		rec = drained
		resp.Warning = overQuotaWarning
		h.logger.Info("transcript delivered over quota",
			"user", userID,
			"seconds", billed,
			"charged_seconds", charged,
		)
	}

	usage := types.NewUsageResponse(rec, policy)
	remaining := usage.Limits.RemainingMinutes
	resp.Remaining = &remaining
	resp.Usage = usage

	types.SetQuotaHeaders(w, rec, policy)
	types.WriteJSON(w, http.StatusOK, resp)
}

// parse reads and validates the multipart upload.
func (h *TranscribeHandler) parse(w http.ResponseWriter, r *http.Request) (*transcribeRequest, error) {
	if r.ContentLength > h.maxUpload {
		return nil, &http.MaxBytesError{Limit: h.maxUpload}
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, types.NewRequestError("", "expected a multipart/form-data body: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("audio")
	if err != nil {
		return nil, types.NewRequestError("audio", "missing audio file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, types.NewRequestError("audio", "audio is empty")
	}

	language, err := h.language(r.FormValue("language"))
	if err != nil {
		return nil, err
	}

	claimed, err := claimedDuration(r.FormValue("duration"))
	if err != nil {
		return nil, err
	}

	return &transcribeRequest{
		audio:    data,
		language: language,
		claimed:  claimed,
		measured: uploadDuration(data),
	}, nil
}

// language normalizes a hint like "en-US" to "en" and checks it is supported.
func (h *TranscribeHandler) language(raw string) (string, error) {
	lang := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if h.languages == nil {
		return lang, nil
	}
	if lang == "" {
		return "", types.NewRequestError("language", "missing language")
	}
	if !h.languages[lang] {
		return "", types.NewRequestError("language", "unsupported language %q", raw)
	}
	return lang, nil
}

// claimedDuration parses the client's optional duration claim in seconds.
// An absent claim is zero.
func claimedDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0, types.NewRequestError("duration", "must be a non-negative number of seconds")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// uploadDuration is the server's own measure of an upload before it is
// transcribed: the WAV header, else a size estimate.
func uploadDuration(data []byte) time.Duration {
	if f, err := audio.ParseWAV(data); err == nil {
		return f.Duration()
	}
	return audio.EstimateDuration(len(data))
}

// measuredDuration is the billable length of the clip: the provider's
// figure, else the server's measure of the upload.
func measuredDuration(res *transcribe.Result, data []byte) time.Duration {
	if res.Duration > 0 {
		return res.Duration
	}
	return uploadDuration(data)
}

func (h *TranscribeHandler) admit(ctx context.Context, userID string, estimated int64) (limits.AdmissionDecision, limits.UsageRecord, error) {
	ctx, span := h.tracer.Start(ctx, "quota.check_admission",
		trace.WithAttributes(tracing.AttrQuotaEstimatedSeconds.Int64(estimated)))
	defer span.End()

	decision, rec, err := h.gate.CheckAdmission(ctx, userID, estimated)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission check failed")
		return decision, rec, err
	}
	span.SetAttributes(
		tracing.AttrQuotaAllowed.Bool(decision.Allowed),
		tracing.AttrQuotaRemainingSeconds.Int64(decision.RemainingSeconds),
	)
	return decision, rec, nil
}

func (h *TranscribeHandler) call(ctx context.Context, req *transcribeRequest) (*transcribe.Result, error) {
	ctx, span := h.tracer.Start(ctx, "transcription.call",
		trace.WithAttributes(
			tracing.AttrTranscriptionProvider.String(h.transcriber.Name()),
			tracing.AttrTranscriptionLanguage.String(req.language),
			tracing.AttrTranscriptionBytes.Int(len(req.audio)),
		))
	defer span.End()

	res, err := h.transcriber.Transcribe(ctx, req.audio, req.language)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return nil, err
	}
	span.SetAttributes(tracing.AttrTranscriptionDuration.Float64(res.Duration.Seconds()))
	return res, nil
}

// debit charges the measured duration. It is detached from the request
// context so a client disconnect does not drop a charge for delivered work.
func (h *TranscribeHandler) debit(ctx context.Context, userID string, seconds int64) (limits.AdmissionDecision, limits.UsageRecord, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.debitTTL)
	defer cancel()

	dctx, span := h.tracer.Start(dctx, "quota.debit",
		trace.WithAttributes(tracing.AttrQuotaSeconds.Int64(seconds)))
	defer span.End()

	decision, rec, err := h.ledger.TryDebit(dctx, userID, seconds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "debit failed")
		return decision, rec, err
	}
	span.SetAttributes(tracing.AttrQuotaAllowed.Bool(decision.Allowed))
	return decision, rec, nil
}

// drain charges the rest of the window after a denied debit, detached from
// the request context like debit.
func (h *TranscribeHandler) drain(ctx context.Context, userID string) (int64, limits.UsageRecord, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.debitTTL)
	defer cancel()

	dctx, span := h.tracer.Start(dctx, "quota.drain")
	defer span.End()

	charged, rec, err := h.ledger.Drain(dctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "drain failed")
		return 0, rec, err
	}
	span.SetAttributes(tracing.AttrQuotaSeconds.Int64(charged))
	return charged, rec, nil
}
