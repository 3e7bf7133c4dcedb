package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJWTConfig_Unset(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg, err := LoadJWTConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg, "auth is disabled without a secret")
}

func TestLoadJWTConfig_DefaultExpiration(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-secret")
	t.Setenv("JWT_EXPIRATION_HOURS", "")

	cfg, err := LoadJWTConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "0123456789abcdef-secret", cfg.Secret)
	assert.Equal(t, 24*time.Hour, cfg.TTL)
	assert.Equal(t, "agency-orchestrator", cfg.Issuer)
}

func TestLoadJWTConfig_CustomExpiration(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef-secret")
	t.Setenv("JWT_EXPIRATION_HOURS", "48")

	cfg, err := LoadJWTConfig()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.TTL)
}

func TestLoadJWTConfig_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		expiration string
		wantErr    string
	}{
		{name: "short secret", secret: "short", wantErr: "at least 16 characters"},
		{name: "not a number", secret: "0123456789abcdef", expiration: "abc", wantErr: "invalid JWT_EXPIRATION_HOURS"},
		{name: "zero hours", secret: "0123456789abcdef", expiration: "0", wantErr: "at least 1 hour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", tt.secret)
			t.Setenv("JWT_EXPIRATION_HOURS", tt.expiration)

			cfg, err := LoadJWTConfig()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
