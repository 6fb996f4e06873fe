// Package auth holds the account side of the login and password flows: the
// user directory, the failed-login blacklist and the session store of the
// bundled target application.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a blacklist the application writes to on every failed login
type Counter interface {
	Fail(ctx context.Context, host string) (int, error)
	Attempts(ctx context.Context, host string) (int, error)
	Clear(ctx context.Context, host string) error
}

// MemoryBlacklist counts failures in process
type MemoryBlacklist struct {
	mu       sync.Mutex
	attempts map[string]int
}

// NewMemoryBlacklist creates an empty blacklist
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{attempts: make(map[string]int)}
}

func (b *MemoryBlacklist) Fail(_ context.Context, host string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[host]++
	return b.attempts[host], nil
}

func (b *MemoryBlacklist) Attempts(_ context.Context, host string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[host], nil
}

func (b *MemoryBlacklist) Clear(_ context.Context, host string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.attempts, host)
	return nil
}

// RedisBlacklist keeps one counter per host that expires window after the
// last failure
type RedisBlacklist struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

// NewRedisBlacklist creates a blacklist under key prefix
func NewRedisBlacklist(client redis.Cmdable, prefix string, window time.Duration) *RedisBlacklist {
	if prefix == "" {
		prefix = "formprobe:blacklist:"
	}
	if window <= 0 {
		window = time.Hour
	}
	return &RedisBlacklist{client: client, prefix: prefix, window: window}
}

func (b *RedisBlacklist) key(host string) string {
	return b.prefix + host
}

func (b *RedisBlacklist) Fail(ctx context.Context, host string) (int, error) {
	var incr *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, b.key(host))
		pipe.Expire(ctx, b.key(host), b.window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", b.key(host), err)
	}
	return int(incr.Val()), nil
}

func (b *RedisBlacklist) Attempts(ctx context.Context, host string) (int, error) {
	val, err := b.client.Get(ctx, b.key(host)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %q: %w", b.key(host), err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("blacklist counter %q is not a number: %w", b.key(host), err)
	}
	return n, nil
}

func (b *RedisBlacklist) Clear(ctx context.Context, host string) error {
	if err := b.client.Del(ctx, b.key(host)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", b.key(host), err)
	}
	return nil
}
