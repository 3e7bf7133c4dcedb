package config

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the cost used for operator password hashes.
const DefaultBcryptCost = 12

// HashPassword hashes an operator password with bcrypt. A cost outside 10-14
// is rejected.
func HashPassword(pw string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < 10 || cost > 14 {
		return "", fmt.Errorf("bcrypt cost out of range: %d (must be 10-14)", cost)
	}
	if pw == "" {
		return "", fmt.Errorf("password is empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether pw matches the configured operator hash.
func (c *Config) VerifyPassword(user, pw string) bool {
	if c.OperatorUser == "" || c.OperatorPassHash == "" || user != c.OperatorUser {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.OperatorPassHash), []byte(pw)) == nil
}
