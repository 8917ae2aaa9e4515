package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"equipres/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired means the lock stayed busy until the context ended.
var ErrLockNotAcquired = errors.New("lock not acquired")

const lockPrefix = "equipres:lock:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisLocker is a SET NX PX lock with a per-holder token.
type RedisLocker struct {
	client     *redis.Client
	retryMin   time.Duration
	retryMax   time.Duration
	releaseTTL time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:     client,
		retryMin:   5 * time.Millisecond,
		retryMax:   200 * time.Millisecond,
		releaseTTL: 2 * time.Second,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	fullKey := lockPrefix + key
	token := uuid.NewString()
	wait := l.retryMin

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock in redis: %w", err)
		}
		if ok {
			return func() { l.release(fullKey, token) }, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
		case <-timer.C:
		}
		wait *= 2
		if wait > l.retryMax {
			wait = l.retryMax
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	// the caller's context may already be gone
	ctx, cancel := context.WithTimeout(context.Background(), l.releaseTTL)
	defer cancel()
	_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
