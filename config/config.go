/*
Package config loads server configuration from the environment.

PURPOSE:
  One place for every tunable. Values come from environment variables
  with sensible defaults, so a bare `./server` runs out of the box and
  deployments override what they need.

VARIABLES:
  PORT                     HTTP server port            (default 8080)
  DATABASE_PATH            SQLite database path        (default economy.db)
  PLATFORM_ACCOUNT         Platform fee account id     (default platform)
  MAX_TRANSACTION_AMOUNT   Per-operation amount cap    (default 1000000)
  READ_TIMEOUT             HTTP read timeout           (default 15s)
  WRITE_TIMEOUT            HTTP write timeout          (default 15s)
  IDLE_TIMEOUT             HTTP idle timeout           (default 60s)
  SHUTDOWN_TIMEOUT         Graceful shutdown budget    (default 30s)
  ALLOWED_ORIGINS          Comma-separated CORS list

  A .env file in the working directory is honored (loaded by main via
  godotenv) before Load reads the environment.

SEE ALSO:
  - cmd/server/main.go: Startup sequence
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all server settings.
type Config struct {
	Port            int
	DatabasePath    string
	PlatformAccount string
	MaxAmount       decimal.Decimal
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	maxAmount, err := getEnvDecimal("MAX_TRANSACTION_AMOUNT", decimal.NewFromInt(1_000_000))
	if err != nil {
		return nil, err
	}

	readTimeout, err := getEnvDuration("READ_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	writeTimeout, err := getEnvDuration("WRITE_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	idleTimeout, err := getEnvDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:            getEnvInt("PORT", 8080),
		DatabasePath:    getEnvString("DATABASE_PATH", "economy.db"),
		PlatformAccount: getEnvString("PLATFORM_ACCOUNT", "platform"),
		MaxAmount:       maxAmount,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
