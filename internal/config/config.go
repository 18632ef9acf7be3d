// Package config provides environment-aware configuration management for
// the archive server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sjafferali/claudelens-archive/infrastructure/runtime"
)

// Config holds all application configuration.
type Config struct {
	Env runtime.Environment

	// Storage
	MongoURI    string
	MongoDBName string

	// Auth
	TokenSigningSecret string
	DefaultAdminID     string
	TrustLoopback      bool

	// Archive
	ArchiveStorageDir string
	TempFileDir       string

	// Rate limiting
	RateLimitRetentionDays int
	RateLimitWindowHours   int

	// HTTP
	Addr            string
	MaxUploadSizeMB int

	// Logging
	LogLevel  string
	LogFormat string

	// Scheduler
	SchedulerEnabled bool
}

// Load loads configuration based on the APP_ENV environment variable,
// optionally sourcing defaults from a config/<env>.env file before falling
// back to process environment variables.
func Load() (*Config, error) {
	env := runtime.Env()

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.MongoURI = getEnv("MONGODB_URI", "mongodb://localhost:27017")
	c.MongoDBName = getEnv("MONGODB_DATABASE", "claudelens")

	c.TokenSigningSecret = getEnv("TOKEN_SIGNING_SECRET", "")
	if c.TokenSigningSecret == "" && c.Env == runtime.Production {
		return fmt.Errorf("TOKEN_SIGNING_SECRET is required in production")
	}
	c.DefaultAdminID = getEnv("DEFAULT_ADMIN_PRINCIPAL", "")
	c.TrustLoopback = getBoolEnv("TRUST_LOOPBACK", c.Env != runtime.Production)

	c.ArchiveStorageDir = getEnv("ARCHIVE_STORAGE_DIR", "./data/archives")
	c.TempFileDir = getEnv("TEMP_FILE_DIR", "./data/tmp")

	c.RateLimitRetentionDays = getIntEnv("RATE_LIMIT_RETENTION_DAYS", 90)
	c.RateLimitWindowHours = getIntEnv("RATE_LIMIT_WINDOW_HOURS", 1)

	c.Addr = getEnv("ADDR", ":8080")
	c.MaxUploadSizeMB = getIntEnv("MAX_UPLOAD_SIZE_MB", 100)

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.SchedulerEnabled = getBoolEnv("SCHEDULER_ENABLED", true)

	return nil
}

// IsDevelopment reports whether the configured environment is development.
func (c *Config) IsDevelopment() bool { return c.Env == runtime.Development }

// IsTesting reports whether the configured environment is testing.
func (c *Config) IsTesting() bool { return c.Env == runtime.Testing }

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool { return c.Env == runtime.Production }

// Validate checks for configuration combinations that are invalid in
// production, mirroring the fail-fast checks the teacher applies before a
// process is allowed to serve traffic.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.TrustLoopback {
			return fmt.Errorf("TRUST_LOOPBACK must be false in production")
		}
		if c.TokenSigningSecret == "" {
			return fmt.Errorf("TOKEN_SIGNING_SECRET must be set in production")
		}
	}

	if c.RateLimitRetentionDays < 1 {
		return fmt.Errorf("invalid RATE_LIMIT_RETENTION_DAYS: %d", c.RateLimitRetentionDays)
	}
	if c.MaxUploadSizeMB < 1 {
		return fmt.Errorf("invalid MAX_UPLOAD_SIZE_MB: %d", c.MaxUploadSizeMB)
	}
	if c.ArchiveStorageDir == "" {
		return fmt.Errorf("ARCHIVE_STORAGE_DIR must not be empty")
	}
	if c.TempFileDir == "" {
		return fmt.Errorf("TEMP_FILE_DIR must not be empty")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}


func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
