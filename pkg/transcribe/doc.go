// Package transcribe is the client side of the speech-to-text collaborator.
//
// A Transcriber turns an audio clip and a language hint into text and the
// measured length of the audio. The HTTP implementation speaks the
// OpenAI-compatible /audio/transcriptions multipart API, which Groq and
// self-hosted Whisper servers also expose.
//
// Failures are reported as *ServiceError. Callers decide whether to surface
// them as retryable; this package never retries on its own.
package transcribe
