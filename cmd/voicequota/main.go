// voicequota meters voice-input usage and enforces per-user quotas on
// speech transcription.
//
// The server exposes:
//   - GET /api/ai-usage: the caller's usage in the current window
//   - POST /api/transcribe: quota-gated transcription of a recorded clip
//
// The same binary is the client: it records from the microphone with
// silence detection, uploads clips and renders the usage indicator.
//
// Usage:
//
//	# Start the server
//	voicequota serve --config config.yaml
//
//	# Show usage for a token
//	voicequota usage --server http://localhost:8080 --token $TOKEN
//
//	# Dictate from the microphone
//	voicequota dictate --language en
//
//	# Inspect the ledger directly
//	voicequota ledger show --user alice
package main

func main() {
	Execute()
}
