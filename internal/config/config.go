// Package config provides configuration management for the generation job orchestrator.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Queues     QueuesConfig
	Handlers   HandlersConfig
	Retry      RetryConfig
	Generation GenerationConfig
	Credits    CreditsConfig
	Retention  RetentionConfig
	Reconcile  ReconcileConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// QueueConfig sizes the worker pool of one queue
type QueueConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// QueuesConfig holds per-queue pool settings
type QueuesConfig struct {
	Queues map[types.QueueName]QueueConfig
}

// For returns the settings of a queue, falling back to a single slot
func (q QueuesConfig) For(name types.QueueName) QueueConfig {
	if cfg, ok := q.Queues[name]; ok {
		return cfg
	}
	return QueueConfig{Concurrency: 1, PollInterval: time.Second}
}

// HandlersConfig holds per-type execution limits
type HandlersConfig struct {
	DefaultTimeout     time.Duration
	Timeouts           map[types.JobType]time.Duration
	DefaultMaxAttempts int
}

// TimeoutFor returns the handler timeout of a job type
func (h HandlersConfig) TimeoutFor(jobType types.JobType) time.Duration {
	if d, ok := h.Timeouts[jobType]; ok && d > 0 {
		return d
	}
	return h.DefaultTimeout
}

// RetryConfig holds the queue's backoff policy
type RetryConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// GenerationConfig holds the image-synthesis backend settings
type GenerationConfig struct {
	BaseURL               string
	APIKey                string
	RequestTimeout        time.Duration
	BreakerMaxFailures    int
	BreakerResetTimeout   time.Duration
	BreakerHalfOpenProbes int

	// Calls per second across all workers; zero disables the shared budget
	BudgetTotal    int
	BudgetReserved int
	BudgetMaxWait  time.Duration
}

// CreditsConfig holds per-type cost overrides
type CreditsConfig struct {
	Costs map[types.JobType]int64
}

// RetentionConfig bounds how long finished jobs stay visible
type RetentionConfig struct {
	Window time.Duration
}

// ReconcileConfig holds the unpaid-debit sweep settings
type ReconcileConfig struct {
	Interval  time.Duration
	BatchSize int
}

// RateLimitConfig holds per-account submission limits
type RateLimitConfig struct {
	SubmitsPerMinute int
	Burst            int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// AllJobTypes lists every payload variant with a handler
var AllJobTypes = []types.JobType{
	types.JobTypeAvatar,
	types.JobTypeSticker,
	types.JobTypeStickerBulk,
	types.JobTypeMultiStageDataset,
	types.JobTypeAvatarCorrection,
	types.JobTypeDataCompletenessCorrection,
}

// defaultTimeouts reflect how long each handler legitimately runs
var defaultTimeouts = map[types.JobType]time.Duration{
	types.JobTypeAvatar:                     90 * time.Second,
	types.JobTypeSticker:                    60 * time.Second,
	types.JobTypeStickerBulk:                10 * time.Minute,
	types.JobTypeMultiStageDataset:          8 * time.Minute,
	types.JobTypeAvatarCorrection:           90 * time.Second,
	types.JobTypeDataCompletenessCorrection: 30 * time.Second,
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "charhub"),
				User:           getEnv("POSTGRES_USER", "charhub"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 25),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Queues: QueuesConfig{
			Queues: map[types.QueueName]QueueConfig{
				types.QueueImageGeneration: {
					Concurrency:  getEnvAsInt("QUEUE_IMAGE_GENERATION_CONCURRENCY", 4),
					PollInterval: getEnvAsDuration("QUEUE_IMAGE_GENERATION_POLL_INTERVAL", 500*time.Millisecond),
				},
				types.QueueCharacterPopulation: {
					Concurrency:  getEnvAsInt("QUEUE_CHARACTER_POPULATION_CONCURRENCY", 1),
					PollInterval: getEnvAsDuration("QUEUE_CHARACTER_POPULATION_POLL_INTERVAL", 2*time.Second),
				},
			},
		},
		Handlers: loadHandlersConfig(),
		Retry: RetryConfig{
			InitialBackoff: getEnvAsDuration("RETRY_INITIAL_BACKOFF", 5*time.Second),
			MaxBackoff:     getEnvAsDuration("RETRY_MAX_BACKOFF", 5*time.Minute),
			Multiplier:     getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
		},
		Generation: GenerationConfig{
			BaseURL:               getEnv("GENERATION_BASE_URL", "http://localhost:7860"),
			APIKey:                getEnv("GENERATION_API_KEY", ""),
			RequestTimeout:        getEnvAsDuration("GENERATION_REQUEST_TIMEOUT", 60*time.Second),
			BreakerMaxFailures:    getEnvAsInt("GENERATION_BREAKER_MAX_FAILURES", 5),
			BreakerResetTimeout:   getEnvAsDuration("GENERATION_BREAKER_RESET_TIMEOUT", 30*time.Second),
			BreakerHalfOpenProbes: getEnvAsInt("GENERATION_BREAKER_HALF_OPEN_PROBES", 1),
			BudgetTotal:           getEnvAsInt("GENERATION_BUDGET_TOTAL", 0),
			BudgetReserved:        getEnvAsInt("GENERATION_BUDGET_RESERVED", 0),
			BudgetMaxWait:         getEnvAsDuration("GENERATION_BUDGET_MAX_WAIT", 30*time.Second),
		},
		Credits:   loadCreditsConfig(),
		Retention: RetentionConfig{Window: getEnvAsDuration("JOB_RETENTION_WINDOW", 7*24*time.Hour)},
		Reconcile: ReconcileConfig{
			Interval:  getEnvAsDuration("RECONCILE_INTERVAL", 10*time.Minute),
			BatchSize: getEnvAsInt("RECONCILE_BATCH_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			SubmitsPerMinute: getEnvAsInt("RATE_LIMIT_SUBMITS_PER_MINUTE", 30),
			Burst:            getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// loadHandlersConfig reads HANDLER_TIMEOUT_<TYPE> overrides
func loadHandlersConfig() HandlersConfig {
	timeouts := make(map[types.JobType]time.Duration, len(AllJobTypes))
	for _, jobType := range AllJobTypes {
		timeouts[jobType] = getEnvAsDuration("HANDLER_TIMEOUT_"+envSuffix(jobType), defaultTimeouts[jobType])
	}

	return HandlersConfig{
		DefaultTimeout:     getEnvAsDuration("HANDLER_DEFAULT_TIMEOUT", 2*time.Minute),
		Timeouts:           timeouts,
		DefaultMaxAttempts: getEnvAsInt("JOB_MAX_ATTEMPTS", 3),
	}
}

// loadCreditsConfig reads CREDIT_COST_<TYPE> overrides; unset types keep the registry default
func loadCreditsConfig() CreditsConfig {
	costs := make(map[types.JobType]int64)
	for _, jobType := range AllJobTypes {
		if v := getEnvAsInt("CREDIT_COST_"+envSuffix(jobType), -1); v >= 0 {
			costs[jobType] = int64(v)
		}
	}
	return CreditsConfig{Costs: costs}
}

// envSuffix turns "sticker-bulk" into "STICKER_BULK"
func envSuffix(jobType types.JobType) string {
	return strings.ToUpper(strings.ReplaceAll(string(jobType), "-", "_"))
}

// PostgresURL returns the connection string for pgx and golang-migrate
func (c PostgresConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
