package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockerContract runs the same checks against every Locker.
func lockerContract(t *testing.T, newLocker func(t *testing.T) Locker) {
	t.Run("mutual exclusion per key", func(t *testing.T) {
		l := newLocker(t)
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := l.Acquire(context.Background(), "wallet-A")
				if !assert.NoError(t, err) {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				release()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside)
	})

	t.Run("distinct keys do not block", func(t *testing.T) {
		l := newLocker(t)
		releaseA, err := l.Acquire(context.Background(), "wallet-A")
		require.NoError(t, err)
		defer releaseA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		releaseB, err := l.Acquire(ctx, "wallet-B")
		require.NoError(t, err)
		releaseB()
	})

	t.Run("times out while held", func(t *testing.T) {
		l := newLocker(t)
		release, err := l.Acquire(context.Background(), "wallet-A")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(ctx, "wallet-A")
		assert.ErrorIs(t, err, ErrLockTimeout)

		release()
		release() // idempotent

		again, err := l.Acquire(context.Background(), "wallet-A")
		require.NoError(t, err)
		again()
	})
}

func TestKeyedMutex(t *testing.T) {
	lockerContract(t, func(*testing.T) Locker { return NewKeyedMutex() })
}

func TestKeyedMutex_CleansUp(t *testing.T) {
	k := NewKeyedMutex()
	release, err := k.Acquire(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1, k.Len())
	release()
	assert.Equal(t, 0, k.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hold, _ := k.Acquire(context.Background(), "y")
	_, err = k.Acquire(ctx, "y")
	assert.Error(t, err)
	hold()
	assert.Equal(t, 0, k.Len())
}

func TestRedisLock(t *testing.T) {
	lockerContract(t, func(t *testing.T) Locker {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		l := NewRedisLockFromClient(client, time.Minute, nil)
		l.poll = 5 * time.Millisecond
		return l
	})
}

func TestRedisLock_ReleaseChecksToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedisLockFromClient(client, time.Minute, nil)

	release, err := l.Acquire(context.Background(), "wallet")
	require.NoError(t, err)

	// Simulate lease expiry and takeover by another holder.
	mr.Set(defaultPrefix+"wallet", "someone-else")
	release()

	v, err := mr.Get(defaultPrefix + "wallet")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestNewRedisLock_InvalidURL(t *testing.T) {
	_, err := NewRedisLock("not-a-valid-url", time.Minute, nil)
	assert.Error(t, err)
}
