package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrUserID = attribute.Key("user.id")

	AttrQuotaAllowed          = attribute.Key("quota.allowed")
	AttrQuotaReason           = attribute.Key("quota.reason")
	AttrQuotaEstimatedSeconds = attribute.Key("quota.estimated_seconds")
	AttrQuotaSeconds          = attribute.Key("quota.seconds")
	AttrQuotaRemainingSeconds = attribute.Key("quota.remaining_seconds")
	AttrQuotaOverQuota        = attribute.Key("quota.over_quota")

	AttrTranscriptionProvider = attribute.Key("transcription.provider")
	AttrTranscriptionLanguage = attribute.Key("transcription.language")
	AttrTranscriptionBytes    = attribute.Key("transcription.audio_bytes")
	AttrTranscriptionDuration = attribute.Key("transcription.duration_seconds")
)

// SetUser tags span with the authenticated user.
func SetUser(span trace.Span, userID string) {
	if userID == "" {
		return
	}
	span.SetAttributes(AttrUserID.String(userID))
}
