package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 16

// JWTConfig holds configuration for operator token signing and validation.
type JWTConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// LoadJWTConfig reads JWT_SECRET and JWT_EXPIRATION_HOURS (default: 24).
// It returns nil without error when JWT_SECRET is unset, which leaves the API open.
func LoadJWTConfig() (*JWTConfig, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, nil
	}

	hours := 24
	if v := os.Getenv("JWT_EXPIRATION_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %v", err)
		}
		hours = n
	}

	cfg := &JWTConfig{
		Secret: secret,
		TTL:    time.Duration(hours) * time.Hour,
		Issuer: "agency-orchestrator",
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the secret length and token lifetime.
func (c *JWTConfig) Validate() error {
	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", MinSecretLength)
	}
	if c.TTL < time.Hour {
		return fmt.Errorf("JWT_EXPIRATION_HOURS must be at least 1 hour, got: %v", c.TTL)
	}
	return nil
}
