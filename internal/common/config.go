package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Webhook  WebhookConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string
}

// StorageConfig holds object-store configuration
type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	Bucket       string
	ResultPrefix string
	UploadPrefix string
}

// RedisConfig holds the optional status-tracker configuration. An empty
// Addr disables the tracker.
type RedisConfig struct {
	Addr      string
	StatusTTL time.Duration
}

// QueueConfig holds the optional AMQP ingress configuration. An empty
// URL disables the consumer.
type QueueConfig struct {
	URL   string
	Queue string
}

// WebhookConfig holds completion-handler tunables.
type WebhookConfig struct {
	// DedupeMinChars is the content-length threshold above which an
	// already-populated record is treated as a duplicate delivery. A
	// legitimate result shorter than this can be reprocessed; that is
	// an accepted approximation, not an at-most-once guarantee.
	DedupeMinChars int
	// MarkFailedOnError transitions the record to FAILED on terminal
	// handler errors. Off by default so redelivery retries against an
	// untouched record.
	MarkFailedOnError bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr: getEnv("GRPC_ADDR", ":9090"),
		},
		Storage: StorageConfig{
			Endpoint:     getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:    getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:    getEnv("MINIO_SECRET_KEY", ""),
			UseSSL:       getEnvAsBool("MINIO_USE_SSL", false),
			Bucket:       getEnv("MINIO_BUCKET", "document-results"),
			ResultPrefix: getEnv("RESULT_PREFIX", "vision-results"),
			UploadPrefix: getEnv("UPLOAD_PREFIX", "uploads"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			StatusTTL: getEnvAsDuration("REDIS_STATUS_TTL", 24*time.Hour),
		},
		Queue: QueueConfig{
			URL:   getEnv("AMQP_URL", ""),
			Queue: getEnv("AMQP_QUEUE", "doc-ai-completions"),
		},
		Webhook: WebhookConfig{
			DedupeMinChars:    getEnvAsInt("WEBHOOK_DEDUPE_MIN_CHARS", 100),
			MarkFailedOnError: getEnvAsBool("WEBHOOK_MARK_FAILED_ON_ERROR", false),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Storage.Endpoint == "" {
		return NewAppError("CONFIG_ERROR", "MINIO_ENDPOINT is required", ErrInvalidInput)
	}
	if c.Storage.Bucket == "" {
		return NewAppError("CONFIG_ERROR", "MINIO_BUCKET is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Webhook.DedupeMinChars < 0 {
		return NewAppError("CONFIG_ERROR", "WEBHOOK_DEDUPE_MIN_CHARS must be >= 0", ErrInvalidInput)
	}
	return nil
}
