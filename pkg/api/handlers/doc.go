// Package handlers provides the HTTP handlers of the voice usage API.
//
// Handlers:
//   - UsageHandler: GET /api/ai-usage, the caller's current usage snapshot
//   - TranscribeHandler: POST /api/transcribe, admission, transcription and debit
//
// Handlers read the caller from the request context (see package auth) and
// hold no per-user state between requests; all accounting goes through the
// ledger.
//
// # Transcription Flow
//
//  1. Parse the multipart body (audio, language, optional duration)
//  2. Pre-flight admission on the claimed duration; 429 when denied
//  3. Call the transcription service; no debit on failure
//  4. Debit the measured duration
//  5. Return the transcript with the refreshed usage snapshot
//
// A debit denied at step 4 still returns the transcript with overQuota set.
// A debit that fails because storage is down is logged as an accounting loss
// and surfaced as a warning.
package handlers
