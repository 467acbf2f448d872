// Package config provides configuration management for voicequota.
//
// Configuration is loaded from a YAML file, filled with defaults, overridden
// from the environment and validated before use.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with .env and environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables use the VOICEQUOTA_ prefix. For example:
//
//   - VOICEQUOTA_LISTEN_ADDRESS overrides server.listen_address
//   - VOICEQUOTA_STT_API_KEY overrides transcription.api_key
//   - VOICEQUOTA_JWT_SECRET overrides security.authentication.jwt.secret
//   - VOICEQUOTA_LOG_LEVEL overrides telemetry.logging.level
//
// A .env file next to the config file, or in the working directory, is read
// first. It never replaces variables already present in the environment.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. .env files
//  4. Environment variables
//  5. Validation (fails fast if invalid)
//
// # Reloading
//
// Watcher reloads the file when it changes on disk. API keys and the log
// level take effect immediately. The quota policy and storage backend are
// fixed for the life of the process and reloads never change them.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	quota:
//	  max_seconds_per_window: 1800
//	  window_duration: 24h
//	  max_single_request_seconds: 120
//
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: data/usage.db
//
//	transcription:
//	  base_url: https://api.openai.com/v1
//	  api_key: ${secret:stt-api-key}
//
//	security:
//	  authentication:
//	    keys:
//	      - key: dev-key-alice
//	        user_id: alice
package config
