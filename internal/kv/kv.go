// Package kv provides the string key-value substrate shared by the lead, run and
// mutex stores, with in-memory, SQLite and PostgreSQL implementations.
package kv

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by a write that would exceed the store's capacity.
var ErrQuotaExceeded = errors.New("kv: quota exceeded")

// Store is a synchronous get/set store over string keys.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Swapper is implemented by stores that can perform conditional writes atomically.
type Swapper interface {
	// CompareAndSwap writes next only if the current value equals *old,
	// or if the key is absent when old is nil.
	CompareAndSwap(ctx context.Context, key string, old *string, next string) (bool, error)
	// CompareAndDelete removes key only if its current value equals old.
	CompareAndDelete(ctx context.Context, key, old string) (bool, error)
}
