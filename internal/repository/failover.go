package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"equipres/internal/domain"
	"equipres/internal/metrics"

	"github.com/rs/zerolog"
)

// FailoverLocker uses the primary locker until it fails with a backend error,
// then serves from the fallback and retries the primary once a minute.
type FailoverLocker struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	retryIn   time.Duration
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		retryIn:  time.Minute,
	}
}

func (l *FailoverLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	started := time.Now()

	if l.isDown.Load() && time.Since(time.Unix(0, l.lastCheck.Load())) > l.retryIn {
		l.isDown.Store(false)
		l.logger.Info().Msg("Retrying primary locker")
	}

	if !l.isDown.Load() {
		unlock, err := l.primary.Lock(ctx, key, ttl)
		if err == nil {
			metrics.ObserveLockWait("primary", time.Since(started))
			return unlock, nil
		}
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		l.logger.Error().Err(err).Str("key", key).Msg("Primary locker failed, falling back to memory")
		l.isDown.Store(true)
		l.lastCheck.Store(time.Now().UnixNano())
	}

	unlock, err := l.fallback.Lock(ctx, key, ttl)
	if err == nil {
		metrics.ObserveLockWait("fallback", time.Since(started))
	}
	return unlock, err
}
