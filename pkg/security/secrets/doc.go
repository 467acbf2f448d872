// Package secrets resolves ${secret:name} references in the configuration.
//
// Credentials such as the speech-to-text API key or the JWT signing secret
// can be written as references instead of literal values:
//
//	transcription:
//	  api_key: ${secret:stt-api-key}
//
// References are looked up in a secrets directory (one file per secret,
// mode 0600 or 0400) and then in the environment, where the name
// stt-api-key maps to VOICEQUOTA_SECRET_STT_API_KEY. Resolved values are
// cached for the configured TTL.
package secrets
