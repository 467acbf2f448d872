// Package types defines the wire format of the voice usage API.
//
// Response types:
//   - UsageResponse: body of GET /api/ai-usage, also embedded in transcribe responses
//   - TranscribeResponse: body of a successful POST /api/transcribe
//   - ErrorResponse: body of every 4xx/5xx, {"error": "...", "code": "..."}
//
// Durations cross the wire in minutes rounded to one decimal; timestamps are
// epoch milliseconds. Field names are camelCase to match the web client.
//
// Errors raised anywhere in the request path are converted with FromError,
// which picks the HTTP status and code.
package types
