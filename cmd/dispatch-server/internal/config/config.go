// Package config provides configuration management for the dispatch standalone server.
// It loads settings from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the dispatch server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Dispatch DispatchConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string // mysql, postgres, sqlite3
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Prefix   string // Table prefix (default: "dispatch_")
}

// BrokerConfig holds the NATS connection configuration.
type BrokerConfig struct {
	URL     string
	Stream  string
	Subject string
	Durable string
}

// DispatchConfig holds the pipeline configuration: the explicit contract of
// max attempts x interval x pool size that bounds how long delivery workers
// can be tied up by failing targets.
type DispatchConfig struct {
	Buckets          int           // Bucket count, fixed until restart
	QueueSize        int           // Per-bucket queue bound
	Workers          int           // Delivery worker pool size
	MaxAttempts      int           // Inline delivery attempts per notification
	RetryInterval    time.Duration // Sleep between inline attempts
	AttemptTimeout   time.Duration // Per-attempt delivery timeout
	PollInterval     time.Duration // Store poll cadence for missed hand-offs
	RecoveryInterval time.Duration // Recovery loop cadence
	RecoveryBatch    int           // Recovery items per pass
	ReapInterval     time.Duration // Expired-subscription reap cadence
}

// Load loads configuration from environment variables.
// Follows 12-factor app principles - configuration via environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "mysql"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "dispatch"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "dispatch"),
			Prefix:   getEnv("DB_PREFIX", "dispatch_"),
		},
		Broker: BrokerConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Stream:  getEnv("NATS_STREAM", "DISPATCH"),
			Subject: getEnv("NATS_SUBJECT", "dispatch.events"),
			Durable: getEnv("NATS_DURABLE", "dispatch-core"),
		},
		Dispatch: DispatchConfig{
			Buckets:          getEnvInt("DISPATCH_BUCKETS", 8),
			QueueSize:        getEnvInt("DISPATCH_QUEUE_SIZE", 64),
			Workers:          getEnvInt("DISPATCH_WORKERS", 4),
			MaxAttempts:      getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
			RetryInterval:    getEnvDuration("DISPATCH_RETRY_INTERVAL", 10*time.Second),
			AttemptTimeout:   getEnvDuration("DISPATCH_ATTEMPT_TIMEOUT", 30*time.Second),
			PollInterval:     getEnvDuration("DISPATCH_POLL_INTERVAL", 30*time.Second),
			RecoveryInterval: getEnvDuration("DISPATCH_RECOVERY_INTERVAL", 5*time.Minute),
			RecoveryBatch:    getEnvInt("DISPATCH_RECOVERY_BATCH", 50),
			ReapInterval:     getEnvDuration("DISPATCH_REAP_INTERVAL", time.Minute),
		},
	}

	// Validate required fields
	if cfg.Database.Driver != "sqlite3" && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD environment variable is required")
	}

	return cfg, nil
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	switch strings.ToLower(c.Driver) {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	case "sqlite3":
		return c.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}

// getEnv retrieves environment variable or returns default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves environment variable as integer or returns default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves environment variable as duration ("30s", "5m")
// or returns default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
