// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Upload     UploadConfig
	Transform  TransformConfig
	Translator TranslatorConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 90s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"90s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// StorageConfig selects and configures the version store.
type StorageConfig struct {
	// Backend is memory, postgres or badger (default: memory)
	Backend string `env:"STORAGE_BACKEND" default:"memory"`

	// DatabaseURL is the PostgreSQL connection string, required for the postgres backend.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// BadgerPath is the badger data directory (default: data/badger)
	BadgerPath string `env:"BADGER_PATH" default:"data/badger"`

	// BadgerGCInterval is how often the value log is garbage collected (default: 5m)
	BadgerGCInterval time.Duration `env:"BADGER_GC_INTERVAL" default:"5m"`

	// BadgerSyncWrites fsyncs every commit (default: true)
	BadgerSyncWrites bool `env:"BADGER_SYNC_WRITES" default:"true"`

	// GCSBucket, when set, stores payloads in Cloud Storage instead of the database.
	GCSBucket string `env:"GCS_BUCKET"`

	// GCSCredentialsFile is a service account key file; empty uses ambient credentials.
	GCSCredentialsFile string `env:"GCS_CREDENTIALS_FILE"`

	// GCSPrefix is the object name prefix (default: versions)
	GCSPrefix string `env:"GCS_PREFIX" default:"versions"`
}

// UploadConfig holds upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
}

// TransformConfig holds settings for uploads and operations.
type TransformConfig struct {
	// MaxConcurrent is the maximum number of parallel transforms (default: 5)
	MaxConcurrent int `env:"TRANSFORM_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a transform slot (default: 30s)
	MaxWaitTime time.Duration `env:"TRANSFORM_MAX_WAIT_TIME" default:"30s"`

	// ForkPolicy is fork or linear (default: fork)
	ForkPolicy string `env:"TRANSFORM_FORK_POLICY" default:"fork"`

	// PreviewInitialRows bounds the preview after upload and on inspection (default: 200)
	PreviewInitialRows int `env:"PREVIEW_INITIAL_ROWS" default:"200"`

	// PreviewResultRows bounds the preview after an operation (default: 50)
	PreviewResultRows int `env:"PREVIEW_RESULT_ROWS" default:"50"`
}

// TranslatorConfig holds natural-language translator settings.
type TranslatorConfig struct {
	// APIKey enables the OpenAI translator; translation is disabled when empty.
	APIKey string `env:"OPENAI_API_KEY"`

	// Model is the chat model (default: gpt-4o-mini)
	Model string `env:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// BaseURL points at an OpenAI-compatible endpoint.
	BaseURL string `env:"OPENAI_BASE_URL"`

	// Timeout is the deadline for one translation (default: 20s)
	Timeout time.Duration `env:"TRANSLATOR_TIMEOUT" default:"20s"`

	// SampleRows is how many rows the model sees, at most 5 (default: 3)
	SampleRows int `env:"TRANSLATOR_SAMPLE_ROWS" default:"3"`
}

// Enabled reports whether a translator is configured.
func (c *TranslatorConfig) Enabled() bool { return c.APIKey != "" }

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// TransformLimit is requests per minute per IP for upload, translate and apply (default: 30)
	TransformLimit int `env:"RATE_LIMIT_TRANSFORM" default:"30"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey enforces X-API-Key on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
