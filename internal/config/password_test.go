package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_CostRange(t *testing.T) {
	_, err := HashPassword("secret", 9)
	assert.Error(t, err)

	_, err = HashPassword("secret", 15)
	assert.Error(t, err)

	_, err = HashPassword("", 10)
	assert.Error(t, err)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse", 10)
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	cfg := Config{OperatorUser: "ops", OperatorPassHash: hash}

	assert.True(t, cfg.VerifyPassword("ops", "correct horse"))
	assert.False(t, cfg.VerifyPassword("ops", "wrong"))
	assert.False(t, cfg.VerifyPassword("admin", "correct horse"))
	assert.False(t, (&Config{}).VerifyPassword("", ""), "no operator configured")
}
