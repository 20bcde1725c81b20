package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDebouncer collapses repeated keys across API instances with SET NX PX
type RedisDebouncer struct {
	client *redis.Client
	prefix string
}

// NewRedisClient parses a redis:// URL and checks connectivity
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRedisDebouncer(client *redis.Client, prefix string) *RedisDebouncer {
	return &RedisDebouncer{client: client, prefix: prefix}
}

// Allow reports whether this is the first occurrence of key within window
func (d *RedisDebouncer) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, 1, window).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Close releases the underlying connection pool
func (d *RedisDebouncer) Close() error {
	return d.client.Close()
}

// Ping checks the connection for readiness probes
func (d *RedisDebouncer) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
