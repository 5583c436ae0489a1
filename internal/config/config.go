// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	OTLPEndpoint string

	RateLimit RateLimitConfig
	Billing   BillingRunConfig
	Usage     UsageConfig
}

// RateLimitConfig configures the optional redis-backed limiter.
type RateLimitConfig struct {
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DefaultWindowSeconds int
	DefaultCeiling       int
}

// BillingRunConfig bounds the automated billing cycle.
type BillingRunConfig struct {
	MaxConcurrency int
	BatchSize      int
	AttemptTimeout int // seconds
	MaxAttempts    int
	IntervalSecond int
}

// UsageConfig tunes the usage meter.
type UsageConfig struct {
	FlushIntervalSeconds int
	QueueSize            int
	RetentionDays        int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "fairway"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "fairway"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		RateLimit: RateLimitConfig{
			RedisEnabled:         getenvBool("RATE_LIMIT_REDIS_ENABLED", false),
			RedisAddr:            getenv("RATE_LIMIT_REDIS_ADDR", ""),
			RedisPassword:        getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:              getenvInt("RATE_LIMIT_REDIS_DB", 0),
			DefaultWindowSeconds: getenvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			DefaultCeiling:       getenvInt("RATE_LIMIT_DEFAULT_CEILING", 600),
		},
		Billing: BillingRunConfig{
			MaxConcurrency: getenvInt("BILLING_MAX_CONCURRENCY", 8),
			BatchSize:      getenvInt("BILLING_BATCH_SIZE", 100),
			AttemptTimeout: getenvInt("BILLING_ATTEMPT_TIMEOUT_SECONDS", 30),
			MaxAttempts:    getenvInt("BILLING_MAX_ATTEMPTS", 4),
			IntervalSecond: getenvInt("BILLING_RUN_INTERVAL_SECONDS", 3600),
		},
		Usage: UsageConfig{
			FlushIntervalSeconds: getenvInt("USAGE_FLUSH_INTERVAL_SECONDS", 60),
			QueueSize:            getenvInt("USAGE_QUEUE_SIZE", 65536),
			RetentionDays:        getenvInt("USAGE_RETENTION_DAYS", 45),
		},
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewDunningPolicyHolder),
)

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
