package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/eldtechnologies/roomledger/internal/ledger"
)

// Record store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	Store       string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string

	DefaultRoom     string
	SendMaxAttempts int
	AuthWindow      time.Duration

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Store:            strings.ToLower(getEnv("STORE", StoreMemory)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/roomledger.db"),
		DefaultRoom:      getEnv("DEFAULT_ROOM", "chat_room"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	attempts, err := strconv.Atoi(getEnv("SEND_MAX_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("SEND_MAX_ATTEMPTS: %w", err)
	}
	cfg.SendMaxAttempts = attempts

	window, err := time.ParseDuration(getEnv("AUTH_WINDOW", "30s"))
	if err != nil {
		return nil, fmt.Errorf("AUTH_WINDOW: %w", err)
	}
	cfg.AuthWindow = window

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the chosen backend has what it needs.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
		if c.Env == "production" {
			return fmt.Errorf("STORE=memory is not allowed in production")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for STORE=redis")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE=postgres")
		}
	case StoreSQLite:
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}

	if _, err := ledger.ParseRoomID(c.DefaultRoom); err != nil {
		return fmt.Errorf("DEFAULT_ROOM: %w", err)
	}
	if c.SendMaxAttempts < 1 {
		return fmt.Errorf("SEND_MAX_ATTEMPTS must be at least 1")
	}
	if c.AuthWindow <= 0 {
		return fmt.Errorf("AUTH_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
