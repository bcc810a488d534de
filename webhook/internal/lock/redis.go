package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
)

const defaultPrefix = "vre:lock:"

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLock is a lease-based Locker shared across instances. The TTL must
// exceed the longest delivery sequence; a lease that expires mid-sequence
// is logged on release.
type RedisLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
	owns   bool
}

// NewRedisLock connects to redisURL.
func NewRedisLock(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisLock, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	l := NewRedisLockFromClient(client, ttl, logger)
	l.owns = true
	return l, nil
}

// NewRedisLockFromClient wraps an existing client; Close leaves it open.
func NewRedisLockFromClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLock{
		client: client,
		prefix: defaultPrefix,
		ttl:    ttl,
		poll:   100 * time.Millisecond,
		logger: logger.With("component", "redis_lock"),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			metrics.LockWait.Observe(time.Since(start).Seconds())
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Int()
			if err != nil {
				l.logger.Error("failed to release lock", "key", key, "error", err.Error())
				return
			}
			if n == 0 {
				l.logger.Warn("lock lease expired before release", "key", key, "ttl", l.ttl.String())
			}
		})
	}, nil
}

func (l *RedisLock) Close() error {
	if l.owns {
		return l.client.Close()
	}
	return nil
}
