package application

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/lock"
	"github.com/wyfcoding/sharematching/pkg/cache"
	"github.com/wyfcoding/sharematching/pkg/logger"
)

func TestPlaceOrder_RedisLockHeldSurfacesTransientConflict(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := lock.NewRedisLocker(cache.NewFromClient(rdb), 50*time.Millisecond, logger.Discard())
	h := newHarnessWithLocker(t, locker)
	h.seed("bob", 10)
	h.deposit("alice", "1000")
	sell := h.mustPlace("bob", "sell", "limit", 10, "10.00")

	// 另一实例持有锁
	require.NoError(t, mr.Set("matching:lock:"+symbol, "other-instance"))

	res, err := h.place("alice", "buy", "market", 5, "")
	require.ErrorIs(t, err, domain.ErrTransientConflict)
	assert.True(t, domain.IsTransient(err))
	require.NotNil(t, res)
	assert.Empty(t, res.Trades)
	assert.Equal(t, domain.StatusPending, res.Order.Status)
	assert.Equal(t, int64(10), h.order(sell.Order.ID).RemainingQuantity)
	assert.True(t, h.balance("alice").Equal(dec("1000")))

	_, err = h.cmd.CancelOrder(h.ctx, CancelOrderCommand{AccountID: "bob", OrderID: sell.Order.ID})
	require.ErrorIs(t, err, domain.ErrTransientConflict)

	mr.Del("matching:lock:" + symbol)
	res = h.mustPlace("alice", "buy", "market", 5, "")
	assert.Equal(t, domain.StatusFilled, res.Order.Status)
}

func TestLockSymbol_DeadlineIsTransientCancelIsNot(t *testing.T) {
	locker := lock.NewLocalLocker()
	h := newHarnessWithLocker(t, locker)

	unlock, err := locker.Lock(context.Background(), symbol)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.cmd.lockSymbol(ctx, symbol)
	require.ErrorIs(t, err, domain.ErrTransientConflict)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = h.cmd.lockSymbol(cancelled, symbol)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsTransient(err))
}
