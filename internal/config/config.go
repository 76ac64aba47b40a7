// Package config provides configuration management for the pool metrics ETL.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/types"
)

// Config holds all application configuration
type Config struct {
	Starknet StarknetConfig
	EventAPI EventAPIConfig
	Prices   PricesConfig
	Output   OutputConfig
	Run      RunConfig
	Server   ServerConfig
	Database DatabaseConfig
	S3       S3Config
	Logging  LoggingConfig
}

// StarknetConfig holds the JSON-RPC endpoints used for contract reads
type StarknetConfig struct {
	RPCPrimary   string
	RPCSecondary string
	AMMAddress   string
	CallTimeout  time.Duration
}

// EventAPIConfig holds the trade-event API configuration
type EventAPIConfig struct {
	BaseURL           string
	Mode              types.EventSourceMode
	Timeout           time.Duration
	RequestsPerSecond float64
}

// PricesConfig holds the price history API configuration
type PricesConfig struct {
	BaseURL           string
	APIKey            string
	VsCurrency        string
	WindowDays        int
	Timeout           time.Duration
	RequestsPerSecond float64
	CacheTTL          time.Duration
}

// OutputConfig holds the JSON artifact location
type OutputConfig struct {
	JSONPath string
}

// RunConfig holds scheduling and fan-out settings
type RunConfig struct {
	Interval       time.Duration
	MaxConcurrency int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds optional sink and cache backends
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// S3Config holds the optional S3 publishing target
type S3Config struct {
	Enabled         bool
	Bucket          string
	Key             string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxAgeDays int
}

// URL returns the Postgres connection URL used by pgx and golang-migrate
func (c *PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Starknet: StarknetConfig{
			RPCPrimary:   getEnv("STARKNET_RPC_PRIMARY", "https://starknet-mainnet.public.blastapi.io"),
			RPCSecondary: getEnv("STARKNET_RPC_SECONDARY", ""),
			AMMAddress:   getEnv("CARMINE_AMM_ADDRESS", "0x047472E6755AFC57ADA9550B6A3AC93129CC4B5F98F51C73E0644D129FD208D9"),
			CallTimeout:  getEnvAsDuration("STARKNET_CALL_TIMEOUT", 30*time.Second),
		},
		EventAPI: EventAPIConfig{
			BaseURL:           strings.TrimRight(getEnv("EVENT_API_BASE_URL", "https://api.carmine.finance"), "/"),
			Mode:              types.EventSourceMode(getEnv("EVENT_API_MODE", string(types.EventSourceGlobal))),
			Timeout:           getEnvAsDuration("EVENT_API_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("EVENT_API_RPS", 5),
		},
		Prices: PricesConfig{
			BaseURL:           strings.TrimRight(getEnv("PRICE_API_BASE_URL", "https://api.coingecko.com/api/v3"), "/"),
			APIKey:            getEnv("PRICE_API_KEY", ""),
			VsCurrency:        getEnv("PRICE_VS_CURRENCY", "usd"),
			WindowDays:        getEnvAsInt("PRICE_WINDOW_DAYS", 14),
			Timeout:           getEnvAsDuration("PRICE_API_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("PRICE_API_RPS", 0.5),
			CacheTTL:          getEnvAsDuration("PRICE_CACHE_TTL", 10*time.Minute),
		},
		Output: OutputConfig{
			JSONPath: getEnv("OUTPUT_JSON_PATH", "./test/carmine.json"),
		},
		Run: RunConfig{
			Interval:       getEnvAsDuration("RUN_INTERVAL", time.Hour),
			MaxConcurrency: getEnvAsInt("RUN_MAX_CONCURRENCY", 8),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Enabled:        getEnvAsBool("POSTGRES_ENABLED", false),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "pool_metrics"),
				User:           getEnv("POSTGRES_USER", "metrics"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
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
		S3: S3Config{
			Enabled:         getEnvAsBool("S3_ENABLED", false),
			Bucket:          getEnv("S3_BUCKET", ""),
			Key:             getEnv("S3_KEY", "carmine/carmine.json"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			PathStyle:       getEnvAsBool("S3_PATH_STYLE", false),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 7),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Starknet.RPCPrimary == "" {
		return apperrors.NewInvalidConfigError("STARKNET_RPC_PRIMARY", "required")
	}
	if c.Prices.WindowDays < 1 {
		return apperrors.NewInvalidConfigError("PRICE_WINDOW_DAYS", "must be at least 1")
	}
	switch c.EventAPI.Mode {
	case types.EventSourceGlobal, types.EventSourcePerPool:
	default:
		return apperrors.NewInvalidConfigError("EVENT_API_MODE", fmt.Sprintf("unknown mode %q", c.EventAPI.Mode))
	}
	if c.Output.JSONPath == "" {
		return apperrors.NewInvalidConfigError("OUTPUT_JSON_PATH", "required")
	}
	if c.Run.MaxConcurrency < 1 {
		return apperrors.NewInvalidConfigError("RUN_MAX_CONCURRENCY", "must be at least 1")
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Key == "") {
		return apperrors.NewInvalidConfigError("S3_BUCKET", "bucket and key are required when S3 is enabled")
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
