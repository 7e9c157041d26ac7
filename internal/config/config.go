// Package config provides configuration management for the bulk loader.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults mirror the limits of the platform's asynchronous API.
const (
	DefaultAPIVersion   = "32.0"
	DefaultBatchSize    = 10000
	DefaultTimeout      = 1500 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Config holds all application configuration
type Config struct {
	Bulk      BulkConfig
	Transport TransportConfig
	Database  DatabaseConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// BulkConfig holds job defaults and the remote instance settings
type BulkConfig struct {
	InstanceURL       string
	SessionID         string
	APIVersion        string
	BatchSize         int
	Timeout           time.Duration
	PollInterval      time.Duration
	SendNulls         bool
	NullExclusions    []string
	Serial            bool
	SubmitConcurrency int
}

// TransportConfig holds HTTP connection tuning
type TransportConfig struct {
	HTTPTimeout        time.Duration
	RateLimit          float64 // requests per second
	RateBurst          int
	MaxRetries         int
	RetryInitialDelay  time.Duration
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
	// RequestBudget caps requests per BudgetWindow across all processes sharing Redis; 0 disables it
	RequestBudget int
	BudgetWindow  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	// Enabled turns on job history; the CLI runs without it
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by migrations
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	// Enabled turns on the open job registry; RequestBudget needs it too
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ServerConfig holds status API server configuration
type ServerConfig struct {
	Port    string
	Host    string
	RateRPS int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
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
		Bulk: BulkConfig{
			InstanceURL:       getEnv("BULK_INSTANCE_URL", ""),
			SessionID:         getEnv("BULK_SESSION_ID", ""),
			APIVersion:        getEnv("BULK_API_VERSION", DefaultAPIVersion),
			BatchSize:         getEnvAsInt("BULK_BATCH_SIZE", DefaultBatchSize),
			Timeout:           getEnvAsDuration("BULK_TIMEOUT", DefaultTimeout),
			PollInterval:      getEnvAsDuration("BULK_POLL_INTERVAL", DefaultPollInterval),
			SendNulls:         getEnvAsBool("BULK_SEND_NULLS", false),
			NullExclusions:    getEnvAsList("BULK_NULL_EXCLUSIONS"),
			Serial:            getEnvAsBool("BULK_SERIAL", false),
			SubmitConcurrency: getEnvAsInt("BULK_SUBMIT_CONCURRENCY", 1),
		},
		Transport: TransportConfig{
			HTTPTimeout:        getEnvAsDuration("TRANSPORT_HTTP_TIMEOUT", 120*time.Second),
			RateLimit:          getEnvAsFloat("TRANSPORT_RATE_LIMIT", 10),
			RateBurst:          getEnvAsInt("TRANSPORT_RATE_BURST", 5),
			MaxRetries:         getEnvAsInt("TRANSPORT_MAX_RETRIES", 3),
			RetryInitialDelay:  getEnvAsDuration("TRANSPORT_RETRY_DELAY", time.Second),
			BreakerMaxFailures: getEnvAsInt("TRANSPORT_BREAKER_MAX_FAILURES", 5),
			BreakerTimeout:     getEnvAsDuration("TRANSPORT_BREAKER_TIMEOUT", 30*time.Second),
			RequestBudget:      getEnvAsInt("TRANSPORT_REQUEST_BUDGET", 0),
			BudgetWindow:       getEnvAsDuration("TRANSPORT_BUDGET_WINDOW", 24*time.Hour),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Enabled:        getEnvAsBool("POSTGRES_ENABLED", false),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "bulk_loader"),
				User:           getEnv("POSTGRES_USER", "bulk"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Server: ServerConfig{
			Port:    getEnv("SERVER_PORT", "8080"),
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			RateRPS: getEnvAsInt("SERVER_RATE_RPS", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would make every job fail
func (c *Config) Validate() error {
	if c.Bulk.BatchSize <= 0 {
		return fmt.Errorf("BULK_BATCH_SIZE must be positive, got %d", c.Bulk.BatchSize)
	}
	if c.Bulk.PollInterval <= 0 {
		return fmt.Errorf("BULK_POLL_INTERVAL must be positive, got %s", c.Bulk.PollInterval)
	}
	if c.Bulk.Timeout <= 0 {
		return fmt.Errorf("BULK_TIMEOUT must be positive, got %s", c.Bulk.Timeout)
	}
	if c.Transport.RequestBudget > 0 && !c.Database.Redis.Enabled {
		return fmt.Errorf("TRANSPORT_REQUEST_BUDGET needs REDIS_ENABLED=true")
	}
	if c.Bulk.SubmitConcurrency <= 0 {
		return fmt.Errorf("BULK_SUBMIT_CONCURRENCY must be positive, got %d", c.Bulk.SubmitConcurrency)
	}
	return nil
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

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
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

// getEnvAsList splits a comma separated variable, dropping blanks
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
