package types

import (
	"errors"
	"fmt"
	"net/http"

	"mercator-hq/voicequota/pkg/limits"
	"mercator-hq/voicequota/pkg/transcribe"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// Param names the offending form field for invalid requests.
	Param string `json:"param,omitempty"`

	// Decision is set on admission denials.
	Decision *Decision `json:"decision,omitempty"`

	status int
}

// Decision is the wire form of limits.AdmissionDecision.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RemainingSeconds int64  `json:"remainingSeconds"`
	Reason           string `json:"reason,omitempty"`
	WindowResetAt    int64  `json:"windowResetAt"`
}

// Error code constants.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeUnauthenticated      = "unauthenticated"
	CodeRequestTooLarge      = "request_too_large"
	CodeQuotaExceeded        = "quota_exceeded"
	CodeRequestTooLong       = "request_too_long"
	CodeRateLimited          = "rate_limited"
	CodeStorageUnavailable   = "storage_unavailable"
	CodeTranscriptionFailed  = "transcription_failed"
	CodeTranscriptionTimeout = "transcription_timeout"
	CodeInternalError        = "internal_error"
	CodeNotFound             = "not_found"
	CodeMethodNotAllowed     = "method_not_allowed"
)

// RequestError is a client error in the request itself.
type RequestError struct {
	Param   string
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("invalid %s: %s", e.Param, e.Message)
	}
	return e.Message
}

// NewRequestError creates a RequestError for param.
func NewRequestError(param, format string, args ...interface{}) *RequestError {
	return &RequestError{Param: param, Message: fmt.Sprintf(format, args...)}
}

// StatusCode returns the HTTP status for the response.
func (e *ErrorResponse) StatusCode() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// NewErrorResponse creates a response with an explicit status.
func NewErrorResponse(status int, code, message string) *ErrorResponse {
	return &ErrorResponse{Error: message, Code: code, status: status}
}

// NewAdmissionDenied creates the 429 body for a denied pre-flight check.
func NewAdmissionDenied(d limits.AdmissionDecision) *ErrorResponse {
	code := CodeQuotaExceeded
	msg := "voice quota exhausted for the current window"
	if d.Reason == limits.ReasonRequestTooLong {
		code = CodeRequestTooLong
		msg = "recording exceeds the maximum length for a single request"
	}

	resp := NewErrorResponse(http.StatusTooManyRequests, code, msg)
	resp.Decision = &Decision{
		Allowed:          d.Allowed,
		RemainingSeconds: d.RemainingSeconds,
		Reason:           d.Reason.String(),
		WindowResetAt:    EpochMillis(d.WindowResetAt),
	}
	return resp
}

// FromError converts err to an error response.
func FromError(err error) *ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		resp := NewErrorResponse(http.StatusBadRequest, CodeInvalidRequest, reqErr.Error())
		resp.Param = reqErr.Param
		return resp
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return NewErrorResponse(http.StatusRequestEntityTooLarge, CodeRequestTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	}

	var svcErr *transcribe.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Timeout() {
			return NewErrorResponse(http.StatusGatewayTimeout, CodeTranscriptionTimeout,
				"transcription timed out, please try again")
		}
		return NewErrorResponse(http.StatusBadGateway, CodeTranscriptionFailed,
			"transcription service failed, please try again")
	}

	switch {
	case errors.Is(err, transcribe.ErrEmptyAudio):
		resp := NewErrorResponse(http.StatusBadRequest, CodeInvalidRequest, "audio is empty")
		resp.Param = "audio"
		return resp
	case errors.Is(err, limits.ErrStorageUnavailable):
		return NewErrorResponse(http.StatusServiceUnavailable, CodeStorageUnavailable,
			"usage service temporarily unavailable")
	case errors.Is(err, limits.ErrUserRequired):
		return NewErrorResponse(http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
	}

	return NewErrorResponse(http.StatusInternalServerError, CodeInternalError,
		"an internal error occurred, please try again later")
}
