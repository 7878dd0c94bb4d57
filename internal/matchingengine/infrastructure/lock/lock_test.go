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
	"github.com/wyfcoding/sharematching/pkg/cache"
	"github.com/wyfcoding/sharematching/pkg/logger"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for iter_ := 0; iter_ < 20; iter_++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "ACME")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_IndependentSymbols(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "ACME")
	require.NoError(t, err)
	defer unlockA()

	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx2, "GLOBEX")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "ACME")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "ACME")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // 重复释放无副作用
	again, err := l.Lock(context.Background(), "ACME")
	require.NoError(t, err)
	again()
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(cache.NewFromClient(client), ttl, logger.Discard()), mr
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "ACME")
	require.NoError(t, err)
	assert.True(t, mr.Exists("matching:lock:ACME"))

	unlock()
	assert.False(t, mr.Exists("matching:lock:ACME"))
}

func TestRedisLocker_WaitsForHolder(t *testing.T) {
	l, _ := newRedisLocker(t, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "ACME")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := l.Lock(ctx, "ACME")
		if err == nil {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock not acquired after release")
	}
}

func TestRedisLocker_DoesNotReleaseForeignToken(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "ACME")
	require.NoError(t, err)

	// 锁过期后被其他实例持有
	require.NoError(t, mr.Set("matching:lock:ACME", "other-owner"))
	unlock()

	v, err := mr.Get("matching:lock:ACME")
	require.NoError(t, err)
	assert.Equal(t, "other-owner", v)
}

func TestRedisLocker_Timeout(t *testing.T) {
	l, mr := newRedisLocker(t, 50*time.Millisecond)
	require.NoError(t, mr.Set("matching:lock:ACME", "other-owner"))

	_, err := l.Lock(context.Background(), "ACME")
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}
