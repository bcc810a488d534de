package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger stores one key per signature plus a counter of marked keys.
// A zero ttl keeps keys forever.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger parses redisURL and verifies connectivity.
func NewRedisLedger(redisURL, prefix string, ttl time.Duration) (*RedisLedger, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisLedgerFromClient(client, prefix, ttl), nil
}

// NewRedisLedgerFromClient wraps an existing client.
func NewRedisLedgerFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "vre:dedup:"
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisLedger) key(signature string) string {
	return r.prefix + "sig:" + signature
}

func (r *RedisLedger) counterKey() string {
	return r.prefix + "count"
}

func (r *RedisLedger) HasSeen(ctx context.Context, signature string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(signature)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisLedger) MarkSeen(ctx context.Context, signature string) error {
	created, err := r.client.SetNX(ctx, r.key(signature), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if created {
		if err := r.client.Incr(ctx, r.counterKey()).Err(); err != nil {
			return fmt.Errorf("redis incr: %w", err)
		}
	}
	return nil
}

func (r *RedisLedger) Count(ctx context.Context) (int64, error) {
	n, err := r.client.Get(ctx, r.counterKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func (r *RedisLedger) Close() error {
	return r.client.Close()
}
