// Package config loads service configuration from environment
// variables with sensible development defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Payment   PaymentConfig
	Caller    CallerConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds service-specific settings.
type ServiceConfig struct {
	Name        string
	Port        int
	PprofPort   int // 0 disables the pprof sidecar
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings. Persistence is
// optional; an empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings for the run queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig selects the run queue backend.
type QueueConfig struct {
	Type   string // "memory" or "redis"
	Stream string
}

// PaymentConfig holds the signer and payment policy. Payments stay
// disabled until a signer key is configured.
type PaymentConfig struct {
	Network          string // "base" or "base-sepolia"
	SignerKey        string
	MerchantAddress  string
	RPCURL           string
	AutoPayment      bool
	MaxPaymentAtomic uint64
}

// CallerConfig tunes outbound agent invocations.
type CallerConfig struct {
	Timeout time.Duration
}

// RateLimitConfig holds per-minute schedule quotas. Limiting needs
// Redis and stays off until enabled.
type RateLimitConfig struct {
	Enabled  bool
	Global   int64
	Simple   int64
	Standard int64
	Heavy    int64
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			PprofPort:   getEnvInt("PPROF_PORT", 0),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Type:   getEnv("QUEUE_TYPE", "memory"),
			Stream: getEnv("QUEUE_STREAM", "workflow.runs"),
		},
		Payment: PaymentConfig{
			Network:          getEnv("PAYMENT_NETWORK", "base-sepolia"),
			SignerKey:        getEnv("SIGNER_KEY", ""),
			MerchantAddress:  getEnv("MERCHANT_ADDRESS", ""),
			RPCURL:           getEnv("RPC_URL", ""),
			AutoPayment:      getEnvBool("AUTO_PAYMENT", true),
			MaxPaymentAtomic: getEnvUint64("MAX_PAYMENT_ATOMIC", 1_000_000), // 1 USDC at 6 decimals
		},
		Caller: CallerConfig{
			Timeout: getEnvDuration("AGENT_CALL_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvBool("RATE_LIMIT_ENABLED", false),
			Global:   int64(getEnvInt("RATE_LIMIT_GLOBAL", 600)),
			Simple:   int64(getEnvInt("RATE_LIMIT_SIMPLE", 120)),
			Standard: int64(getEnvInt("RATE_LIMIT_STANDARD", 60)),
			Heavy:    int64(getEnvInt("RATE_LIMIT_HEAVY", 20)),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Queue.Type != "memory" && c.Queue.Type != "redis" {
		return fmt.Errorf("unknown queue type: %q", c.Queue.Type)
	}
	if c.Queue.Type == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis queue requires REDIS_ADDR")
	}
	switch c.Payment.Network {
	case "base", "base-sepolia":
	default:
		return fmt.Errorf("unknown payment network: %q", c.Payment.Network)
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	return nil
}

// PaymentsEnabled reports whether a signer is configured for outbound
// payment settlement.
func (c *Config) PaymentsEnabled() bool {
	return c.Payment.SignerKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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
