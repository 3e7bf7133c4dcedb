package kv

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

var (
	swapScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return 0`)

	deleteScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis is a Store backed by plain Redis string keys. The caller owns the
// client lifecycle.
type Redis struct {
	client goredis.Cmdable
	prefix string
}

// NewRedis wraps a Redis client. prefix is prepended to every key.
func NewRedis(client goredis.Cmdable, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap implements Swapper.
func (r *Redis) CompareAndSwap(ctx context.Context, key string, old *string, next string) (bool, error) {
	if old == nil {
		ok, err := r.client.SetNX(ctx, r.key(key), next, 0).Result()
		if err != nil {
			return false, fmt.Errorf("failed to swap %s: %w", key, err)
		}
		return ok, nil
	}
	n, err := swapScript.Run(ctx, r.client, []string{r.key(key)}, *old, next).Int()
	if err != nil {
		return false, fmt.Errorf("failed to swap %s: %w", key, err)
	}
	return n == 1, nil
}

// CompareAndDelete implements Swapper.
func (r *Redis) CompareAndDelete(ctx context.Context, key, old string) (bool, error) {
	n, err := deleteScript.Run(ctx, r.client, []string{r.key(key)}, old).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return n == 1, nil
}
