// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (BYTE_* and DATABASE_URL)
//  2. Config file (~/.byte/config.yaml or ./config.yaml)
//  3. Default values
//
// Validation uses sentinel errors so callers can match with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrMissingAuthSecret indicates the token signing secret is not set.
	ErrMissingAuthSecret = errors.New("missing auth secret")

	// ErrWeakAuthSecret indicates the token signing secret is too short.
	ErrWeakAuthSecret = errors.New("auth secret must be at least 32 bytes")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidBackoff indicates reconnect backoff tuning is out of range.
	ErrInvalidBackoff = errors.New("invalid reconnect backoff")

	// ErrInvalidRateLimit indicates the per-client rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// MinAuthSecretLength is the minimum accepted signing secret length.
const MinAuthSecretLength = 32

// Config stores application configuration.
// The auth secret and the database password are sensitive; they are never
// logged and excluded from JSON output.
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	RateLimit   float64  `mapstructure:"rate_limit" json:"rate_limit"` // requests per second per client IP
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// TrustProxy makes the server take client addresses from X-Real-IP /
	// X-Forwarded-For. Only enable behind a reverse proxy that sets them;
	// otherwise rate limiting buckets every client under the proxy address
	// (or lets clients spoof their own).
	TrustProxy bool `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Authentication
	AuthSecret    string `mapstructure:"auth_secret" json:"-"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours" json:"token_ttl_hours"`

	// PostgreSQL connection. InMemory switches the server to ephemeral
	// in-process stores, mainly for local development.
	InMemory         bool   `mapstructure:"in_memory" json:"in_memory"`
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Client reconnection tuning.
	BackoffBaseMS     int `mapstructure:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffCapMS      int `mapstructure:"backoff_cap_ms" json:"backoff_cap_ms"`
	ReconnectAttempts int `mapstructure:"reconnect_attempts" json:"reconnect_attempts"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug, info, warn, error
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// TokenTTL returns the bearer token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// BackoffBase returns the first reconnect delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffCap returns the reconnect delay ceiling.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".byte")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("BYTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 20)
	v.SetDefault("trust_proxy", false)

	v.SetDefault("token_ttl_hours", 24)

	v.SetDefault("in_memory", false)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "byte")
	v.SetDefault("postgres_password", "byte_dev_password")
	v.SetDefault("postgres_db_name", "byte")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("backoff_base_ms", 500)
	v.SetDefault("backoff_cap_ms", 30000)
	v.SetDefault("reconnect_attempts", 6)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}
