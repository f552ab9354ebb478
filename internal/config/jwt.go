package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultTokenTTL is the lifetime of issued control-plane tokens.
const DefaultTokenTTL = 24 * time.Hour

// JWTConfig holds the bearer-token settings of the control plane.
type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

// loadJWTConfig reads JWT_SECRET and JWT_EXPIRATION_HOURS. The secret may be
// empty here; commands that serve or issue tokens call Require.
func loadJWTConfig() (JWTConfig, error) {
	cfg := JWTConfig{Secret: os.Getenv("JWT_SECRET"), TTL: DefaultTokenTTL}

	if v := os.Getenv("JWT_EXPIRATION_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return JWTConfig{}, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %v", err)
		}
		if hours < 1 {
			return JWTConfig{}, fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %d", hours)
		}
		cfg.TTL = time.Duration(hours) * time.Hour
	}
	return cfg, nil
}

// Require fails when no signing secret is configured.
func (c JWTConfig) Require() error {
	if c.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set")
	}
	if len(c.Secret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	return nil
}
