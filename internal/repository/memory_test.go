package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	t.Run("SerializesSameKey", func(t *testing.T) {
		var inside, maxSeen int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := locker.Lock(ctx, "equipment:1", 0)
				require.NoError(t, err)
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxSeen)
					if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxSeen)
	})

	t.Run("IndependentKeys", func(t *testing.T) {
		unlockA, err := locker.Lock(ctx, "a", 0)
		require.NoError(t, err)
		defer unlockA()

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		unlockB, err := locker.Lock(waitCtx, "b", 0)
		require.NoError(t, err)
		unlockB()
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "busy", 0)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(waitCtx, "busy", 0)
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		unlock()
		unlock()

		locker.mu.Lock()
		assert.Empty(t, locker.locks)
		locker.mu.Unlock()
	})
}
