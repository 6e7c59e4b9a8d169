package config

import (
	"fmt"
	"net"
	"strings"
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration and fails fast with a sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidListenAddr)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidListenAddr, c.ListenAddr, err)
	}

	if strings.TrimSpace(c.AuthSecret) == "" {
		return ErrMissingAuthSecret
	}
	if len(c.AuthSecret) < MinAuthSecretLength {
		return fmt.Errorf("%w: got %d bytes", ErrWeakAuthSecret, len(c.AuthSecret))
	}

	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("%w: rate=%v burst=%d", ErrInvalidRateLimit, c.RateLimit, c.RateBurst)
	}

	if !c.InMemory {
		if strings.TrimSpace(c.PostgresHost) == "" {
			return fmt.Errorf("%w: empty host", ErrInvalidPostgresHost)
		}
		if c.PostgresPort < 1 || c.PostgresPort > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
		}
		if strings.TrimSpace(c.PostgresDBName) == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidPostgresDBName)
		}
		if !validSSLModes[c.PostgresSSLMode] {
			return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
		}
	}

	if c.BackoffBaseMS <= 0 || c.BackoffCapMS < c.BackoffBaseMS || c.ReconnectAttempts < 1 {
		return fmt.Errorf("%w: base=%dms cap=%dms attempts=%d",
			ErrInvalidBackoff, c.BackoffBaseMS, c.BackoffCapMS, c.ReconnectAttempts)
	}

	return nil
}
