package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 90 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRequestTimeout  = 75 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// CORS defaults
	DefaultCORSMaxAge = 3600 // 1 hour

	// Quota defaults
	DefaultMaxSecondsPerWindow     = int64(1800)
	DefaultWindowDuration          = 24 * time.Hour
	DefaultMaxSingleRequestSeconds = int64(120)

	// Storage defaults
	DefaultStorageBackend          = "memory"
	DefaultSQLitePath              = "data/usage.db"
	DefaultSQLiteDriver            = "sqlite"
	DefaultSQLiteBusyTimeout       = 5 * time.Second
	DefaultPostgresMaxOpenConns    = 20
	DefaultPostgresMaxIdleConns    = 5
	DefaultPostgresConnMaxLifetime = 30 * time.Minute
	DefaultRedisKeyPrefix          = "voicequota:usage:"
	DefaultRedisMaxRetries         = 10
	DefaultRetentionSchedule       = "0 3 * * *"
	DefaultRetentionMaxAge         = 30 * 24 * time.Hour

	// Transcription defaults
	DefaultTranscriptionProvider = "openai"
	DefaultTranscriptionBaseURL  = "https://api.openai.com/v1"
	DefaultTranscriptionModel    = "whisper-1"
	DefaultTranscriptionTimeout  = 30 * time.Second
	DefaultMaxUploadBytes        = int64(25 << 20)

	// Rate limit defaults
	DefaultRequestsPerMinute = 20
	DefaultRateLimitBurst    = 5
	DefaultMaxConcurrent     = 32
	DefaultMaxConcurrentUser = 2

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultLogFileMaxSizeMB   = 100
	DefaultLogFileMaxBackups  = 5
	DefaultLogFileMaxAgeDays  = 28
	DefaultMetricsPath        = "/metrics"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "voicequota"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"

	// Security defaults
	DefaultTLSMinVersion     = "1.3"
	DefaultTLSReloadInterval = 5 * time.Minute
	DefaultSecretEnvPrefix   = "VOICEQUOTA_SECRET_"
	DefaultSecretCacheTTL    = 5 * time.Minute
	DefaultJWTLeeway         = 30 * time.Second

	// Client defaults
	DefaultClientServerURL  = "http://127.0.0.1:8080"
	DefaultPollInterval     = 30 * time.Second
	DefaultSilenceTimeout   = 3 * time.Second
	DefaultSilenceThreshold = 0.01
	DefaultMaxRecording     = 120 * time.Second
)

// DefaultSupportedLanguages is used when quota.supported_languages is empty.
var DefaultSupportedLanguages = []string{"en", "de", "fr", "es", "it", "pt", "nl", "ja", "zh"}

// DefaultRequestDurationBuckets is used when no buckets are configured.
var DefaultRequestDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Default returns a configuration with every default applied, including
// boolean fields that default to true. Files are decoded on top of it so
// an explicit false in YAML is preserved.
func Default() *Config {
	cfg := &Config{}
	cfg.CORS.Enabled = true
	cfg.RateLimit.Enabled = true
	cfg.Telemetry.Logging.RedactPII = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Tracing.Insecure = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	applyCORSDefaults(&cfg.CORS)

	// Quota defaults
	if cfg.Quota.MaxSecondsPerWindow == 0 {
		cfg.Quota.MaxSecondsPerWindow = DefaultMaxSecondsPerWindow
	}
	if cfg.Quota.WindowDuration == 0 {
		cfg.Quota.WindowDuration = DefaultWindowDuration
	}
	if cfg.Quota.MaxSingleRequestSeconds == 0 {
		cfg.Quota.MaxSingleRequestSeconds = DefaultMaxSingleRequestSeconds
	}
	if len(cfg.Quota.SupportedLanguages) == 0 {
		cfg.Quota.SupportedLanguages = append([]string(nil), DefaultSupportedLanguages...)
	}

	applyStorageDefaults(&cfg.Storage)

	// Transcription defaults
	if cfg.Transcription.Provider == "" {
		cfg.Transcription.Provider = DefaultTranscriptionProvider
	}
	if cfg.Transcription.BaseURL == "" {
		cfg.Transcription.BaseURL = DefaultTranscriptionBaseURL
	}
	if cfg.Transcription.Model == "" {
		cfg.Transcription.Model = DefaultTranscriptionModel
	}
	if cfg.Transcription.Timeout == 0 {
		cfg.Transcription.Timeout = DefaultTranscriptionTimeout
	}
	if cfg.Transcription.MaxUploadBytes == 0 {
		cfg.Transcription.MaxUploadBytes = DefaultMaxUploadBytes
	}

	// Rate limit defaults
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = DefaultRateLimitBurst
	}
	if cfg.RateLimit.MaxConcurrent == 0 {
		cfg.RateLimit.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RateLimit.MaxConcurrentPerUser == 0 {
		cfg.RateLimit.MaxConcurrentPerUser = DefaultMaxConcurrentUser
	}

	applyTelemetryDefaults(&cfg.Telemetry)

	// Security defaults
	if cfg.Security.TLS.MinVersion == "" {
		cfg.Security.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Security.TLS.ReloadInterval == 0 {
		cfg.Security.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
	if cfg.Security.Secrets.EnvPrefix == "" {
		cfg.Security.Secrets.EnvPrefix = DefaultSecretEnvPrefix
	}
	if cfg.Security.Secrets.CacheTTL == 0 {
		cfg.Security.Secrets.CacheTTL = DefaultSecretCacheTTL
	}
	if len(cfg.Security.Authentication.Sources) == 0 {
		cfg.Security.Authentication.Sources = []CredentialSource{
			{Type: "header", Name: "Authorization", Scheme: "Bearer"},
			{Type: "header", Name: "X-API-Key"},
			{Type: "cookie", Name: "session"},
		}
	}
	if cfg.Security.Authentication.JWT.Leeway == 0 {
		cfg.Security.Authentication.JWT.Leeway = DefaultJWTLeeway
	}

	// Client defaults
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = DefaultClientServerURL
	}
	if cfg.Client.PollInterval == 0 {
		cfg.Client.PollInterval = DefaultPollInterval
	}
	if cfg.Client.SilenceTimeout == 0 {
		cfg.Client.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.Client.SilenceThreshold == 0 {
		cfg.Client.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.Client.MaxRecording == 0 {
		cfg.Client.MaxRecording = DefaultMaxRecording
	}
}

// applyCORSDefaults applies default values to CORS configuration.
func applyCORSDefaults(cors *CORSConfig) {
	if len(cors.AllowedOrigins) == 0 {
		cors.AllowedOrigins = []string{"*"}
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID"}
	}
	if len(cors.ExposedHeaders) == 0 {
		cors.ExposedHeaders = []string{
			"X-Request-ID",
			"X-Quota-Limit-Seconds",
			"X-Quota-Remaining-Seconds",
			"X-Quota-Reset",
			"Retry-After",
		}
	}
	if cors.MaxAge == 0 {
		cors.MaxAge = DefaultCORSMaxAge
	}
}

func applyStorageDefaults(s *StorageConfig) {
	if s.Backend == "" {
		s.Backend = DefaultStorageBackend
	}
	if s.SQLite.Path == "" {
		s.SQLite.Path = DefaultSQLitePath
	}
	if s.SQLite.Driver == "" {
		s.SQLite.Driver = DefaultSQLiteDriver
	}
	if s.SQLite.BusyTimeout == 0 {
		s.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if s.Postgres.MaxOpenConns == 0 {
		s.Postgres.MaxOpenConns = DefaultPostgresMaxOpenConns
	}
	if s.Postgres.MaxIdleConns == 0 {
		s.Postgres.MaxIdleConns = DefaultPostgresMaxIdleConns
	}
	if s.Postgres.ConnMaxLifetime == 0 {
		s.Postgres.ConnMaxLifetime = DefaultPostgresConnMaxLifetime
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if s.Redis.MaxRetries == 0 {
		s.Redis.MaxRetries = DefaultRedisMaxRetries
	}
	if s.Retention.Schedule == "" {
		s.Retention.Schedule = DefaultRetentionSchedule
	}
	if s.Retention.MaxAge == 0 {
		s.Retention.MaxAge = DefaultRetentionMaxAge
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Logging.File.MaxSizeMB == 0 {
		t.Logging.File.MaxSizeMB = DefaultLogFileMaxSizeMB
	}
	if t.Logging.File.MaxBackups == 0 {
		t.Logging.File.MaxBackups = DefaultLogFileMaxBackups
	}
	if t.Logging.File.MaxAgeDays == 0 {
		t.Logging.File.MaxAgeDays = DefaultLogFileMaxAgeDays
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if len(t.Metrics.RequestDurationBuckets) == 0 {
		t.Metrics.RequestDurationBuckets = append([]float64(nil), DefaultRequestDurationBuckets...)
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultReadinessPath
	}
}
