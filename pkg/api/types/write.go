package types

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/voicequota/pkg/limits"
)

// Quota headers set on usage and transcription responses.
const (
	HeaderQuotaLimit     = "X-Quota-Limit-Seconds"
	HeaderQuotaRemaining = "X-Quota-Remaining-Seconds"
	HeaderQuotaReset     = "X-Quota-Reset"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes resp with its status.
func WriteError(w http.ResponseWriter, resp *ErrorResponse) {
	WriteJSON(w, resp.StatusCode(), resp)
}

// SetQuotaHeaders describes rec's window in response headers.
func SetQuotaHeaders(w http.ResponseWriter, rec limits.UsageRecord, policy limits.QuotaPolicy) {
	h := w.Header()
	h.Set(HeaderQuotaLimit, strconv.FormatInt(policy.MaxSecondsPerWindow, 10))
	h.Set(HeaderQuotaRemaining, strconv.FormatInt(rec.Remaining(policy), 10))
	if !rec.WindowEnd.IsZero() {
		h.Set(HeaderQuotaReset, strconv.FormatInt(rec.WindowEnd.Unix(), 10))
	}
}

// SetRetryAfter sets Retry-After to the whole seconds until t, minimum 1.
func SetRetryAfter(w http.ResponseWriter, now, t time.Time) {
	secs := int64(t.Sub(now) / time.Second)
	if t.Sub(now)%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}
