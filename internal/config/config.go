package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultChunkSize is the capture chunk size when CHUNK_SIZE is unset.
const DefaultChunkSize = 10 * 1024 * 1024

// SupervisorConfig holds configuration for the watchlist supervisor.
type SupervisorConfig struct {
	// Server settings
	Port         int
	Environment  string
	LogLevel     string
	APIRateLimit int

	// Database
	DatabaseURL   string
	MigrateOnBoot bool

	// Poll loop
	PollInterval     time.Duration
	ProbeTimeout     time.Duration
	ProbeConcurrency int
	ProbeRatePerSec  float64

	// Upstream account and endpoints
	OwnerUserID     string
	StatusBaseURL   string
	VideoBaseURL    string
	CommentsBaseURL string
	IngestBaseURL   string
	SaveInterval    int

	// Capture
	ChunkSize   int
	ChunkDir    string
	FFprobePath string

	// Notifications
	StreamDetailBaseURL string
	WebhookURL          string
	WebhookSigningKey   string
	RedisURL            string
	RedisChannel        string

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoadSupervisorConfig loads the supervisor configuration from environment
// variables. A .env file in the working directory is read first if present.
func LoadSupervisorConfig() (*SupervisorConfig, error) {
	_ = godotenv.Load()

	cfg := &SupervisorConfig{
		Port:                getEnvInt("PORT", 8080),
		Environment:         getEnv("ENVIRONMENT", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		APIRateLimit:        getEnvInt("API_RATE_LIMIT", 120),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		MigrateOnBoot:       getEnvBool("MIGRATE_ON_BOOT", true),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 30*time.Second),
		ProbeTimeout:        getEnvDuration("PROBE_TIMEOUT", 10*time.Second),
		ProbeConcurrency:    getEnvInt("PROBE_CONCURRENCY", 8),
		ProbeRatePerSec:     getEnvFloat("PROBE_RATE_PER_SEC", 5),
		OwnerUserID:         getEnv("OWNER_USER_ID", ""),
		StatusBaseURL:       trimURL(getEnv("STATUS_BASE_URL", "")),
		VideoBaseURL:        trimURL(getEnv("VIDEO_BASE_URL", "")),
		CommentsBaseURL:     trimURL(getEnv("COMMENTS_BASE_URL", "")),
		IngestBaseURL:       trimURL(getEnv("INGEST_BASE_URL", "")),
		SaveInterval:        getEnvInt("SAVE_INTERVAL", 60),
		ChunkSize:           getEnvInt("CHUNK_SIZE", DefaultChunkSize),
		ChunkDir:            getEnv("CHUNK_DIR", "/tmp/recordings"),
		FFprobePath:         getEnv("FFPROBE_PATH", "ffprobe"),
		StreamDetailBaseURL: trimURL(getEnv("STREAM_DETAIL_BASE_URL", "http://localhost:8080/api/v1")),
		WebhookURL:          getEnv("WEBHOOK_URL", ""),
		WebhookSigningKey:   getEnv("WEBHOOK_SIGNING_KEY", ""),
		RedisURL:            getEnv("REDIS_URL", ""),
		RedisChannel:        getEnv("REDIS_CHANNEL", "watchlist:notifications"),
		ReadTimeout:         getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.VideoBaseURL == "" {
		cfg.VideoBaseURL = cfg.StatusBaseURL
	}
	if cfg.CommentsBaseURL == "" {
		cfg.CommentsBaseURL = cfg.StatusBaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *SupervisorConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.OwnerUserID == "" {
		return fmt.Errorf("OWNER_USER_ID is required")
	}
	if c.StatusBaseURL == "" {
		return fmt.Errorf("STATUS_BASE_URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be greater than 0")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be greater than 0")
	}
	if c.ProbeConcurrency <= 0 {
		return fmt.Errorf("PROBE_CONCURRENCY must be greater than 0")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be greater than 0")
	}
	if c.APIRateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT must not be negative")
	}
	if c.WebhookURL != "" && c.WebhookSigningKey == "" {
		return fmt.Errorf("WEBHOOK_SIGNING_KEY is required when WEBHOOK_URL is set")
	}
	return nil
}

func trimURL(u string) string {
	return strings.TrimRight(u, "/")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
