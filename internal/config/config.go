package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Batch     BatchConfig
	Vector    VectorConfig
	Embedding EmbeddingConfig
	Migration MigrationConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins lists CORS origins, "*" allows any
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string // sqlite, postgres
	Path            string // sqlite file
	DSN             string // postgres connection string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// BatchConfig holds batch pipeline defaults
type BatchConfig struct {
	ChunkSize      int
	MaxConcurrency int

	// MaxResultsGuard caps a single run. Negative disables the guard.
	MaxResultsGuard  int
	WriteBackRetries int
	WriteBackDelay   time.Duration
}

// VectorConfig holds Qdrant connection settings
type VectorConfig struct {
	Enabled    bool
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
}

// EmbeddingConfig holds the OpenAI-compatible embedding endpoint
type EmbeddingConfig struct {
	BaseURL string
	Model   string
	Token   string
}

// MigrationConfig holds export/import settings
type MigrationConfig struct {
	ExportDir         string
	SourceEnvironment string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("CHATSYNC_PORT", 8080),
			Host:         getEnv("CHATSYNC_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvDuration("CHATSYNC_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("CHATSYNC_WRITE_TIMEOUT", 10*time.Minute),
			IdleTimeout:  getEnvDuration("CHATSYNC_IDLE_TIMEOUT", 120*time.Second),

			AllowedOrigins: getEnvList("CHATSYNC_CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:8080"}),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("CHATSYNC_DB_DRIVER", "sqlite")),
			Path:            getEnv("CHATSYNC_DB_PATH", "data/chatsync.db"),
			DSN:             getEnv("CHATSYNC_DB_DSN", ""),
			MaxOpenConns:    getEnvInt("CHATSYNC_MAX_OPEN_CONNS", 1),
			MaxIdleConns:    getEnvInt("CHATSYNC_MAX_IDLE_CONNS", 1),
			ConnMaxLifetime: getEnvDuration("CHATSYNC_CONN_MAX_LIFETIME", 1*time.Hour),
		},
		Batch: BatchConfig{
			ChunkSize:        getEnvInt("CHATSYNC_BATCH_CHUNK_SIZE", 100),
			MaxConcurrency:   getEnvInt("CHATSYNC_BATCH_MAX_CONCURRENCY", 5),
			MaxResultsGuard:  getEnvGuard("CHATSYNC_MAX_RESULTS_GUARD", 50000),
			WriteBackRetries: getEnvInt("CHATSYNC_WRITE_BACK_RETRIES", 5),
			WriteBackDelay:   getEnvDuration("CHATSYNC_WRITE_BACK_DELAY", 50*time.Millisecond),
		},
		Vector: VectorConfig{
			Enabled:    getEnvBool("CHATSYNC_VECTOR_ENABLED", true),
			Host:       getEnv("CHATSYNC_QDRANT_HOST", "localhost"),
			Port:       getEnvInt("CHATSYNC_QDRANT_PORT", 6334),
			APIKey:     getEnv("CHATSYNC_QDRANT_API_KEY", ""),
			UseTLS:     getEnvBool("CHATSYNC_QDRANT_TLS", false),
			Collection: getEnv("CHATSYNC_QDRANT_COLLECTION", "philosophy_conversations"),
			VectorSize: uint64(getEnvInt64("CHATSYNC_VECTOR_SIZE", 1536)),
		},
		Embedding: EmbeddingConfig{
			BaseURL: getEnv("CHATSYNC_EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			Model:   getEnv("CHATSYNC_EMBEDDING_MODEL", "text-embedding-3-small"),
			Token:   getEnv("OPENAI_API_KEY", ""),
		},
		Migration: MigrationConfig{
			ExportDir:         getEnv("CHATSYNC_EXPORT_DIR", "data/exports"),
			SourceEnvironment: getEnv("CHATSYNC_ENVIRONMENT", "development"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("CHATSYNC_REQUESTS_PER_MINUTE", 100),
			BurstSize:         getEnvInt("CHATSYNC_BURST_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("CHATSYNC_LOG_LEVEL", "info"),
			Format: getEnv("CHATSYNC_LOG_FORMAT", "json"),
			Output: getEnv("CHATSYNC_LOG_OUTPUT", "stdout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1024 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1024 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("sqlite driver requires a database path")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("postgres driver requires CHATSYNC_DB_DSN")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Batch.ChunkSize < 1 {
		return fmt.Errorf("batch chunk size must be at least 1, got %d", c.Batch.ChunkSize)
	}
	if c.Batch.MaxConcurrency < 1 {
		return fmt.Errorf("batch max concurrency must be at least 1, got %d", c.Batch.MaxConcurrency)
	}

	if c.Vector.Enabled {
		if c.Vector.Collection == "" {
			return fmt.Errorf("vector collection name is required when the vector store is enabled")
		}
		if c.Vector.VectorSize == 0 {
			return fmt.Errorf("vector size must be positive")
		}
	}

	return nil
}

// Guard returns the configured max results guard, or nil when disabled.
func (b BatchConfig) Guard() *int {
	if b.MaxResultsGuard < 0 {
		return nil
	}
	guard := b.MaxResultsGuard
	return &guard
}

// resolvePaths resolves all directory paths to absolute paths
func (c *Config) resolvePaths() error {
	var err error

	c.Migration.ExportDir, err = filepath.Abs(c.Migration.ExportDir)
	if err != nil {
		return fmt.Errorf("failed to resolve export directory: %w", err)
	}

	if c.Database.Driver == "sqlite" {
		c.Database.Path, err = filepath.Abs(c.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to resolve database path: %w", err)
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvGuard accepts an integer or "none"/"off" (disabled, stored as -1)
func getEnvGuard(key string, defaultValue int) int {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return defaultValue
	case "none", "off", "disabled":
		return -1
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}
