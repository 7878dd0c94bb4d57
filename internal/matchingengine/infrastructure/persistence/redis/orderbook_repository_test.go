package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/pkg/cache"
)

func newRepo(t *testing.T) (*OrderBookRedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewOrderBookRedisRepository(cache.NewFromClient(client), time.Second), mr
}

func TestOrderBookCache_SaveGetInvalidate(t *testing.T) {
	ctx := context.Background()
	repo, mr := newRepo(t)

	miss, err := repo.Get(ctx, "ACME", 10)
	require.NoError(t, err)
	assert.Nil(t, miss)

	snap := &domain.OrderBookSnapshot{
		Symbol:    "ACME",
		Bids:      []domain.OrderBookLevel{{Price: decimal.RequireFromString("9.5"), Quantity: 30, OrderCount: 2}},
		Asks:      []domain.OrderBookLevel{},
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, repo.Save(ctx, snap, 10))
	require.NoError(t, repo.Save(ctx, snap, 5))
	require.NoError(t, repo.Save(ctx, &domain.OrderBookSnapshot{Symbol: "OTHER"}, 10))

	got, err := repo.Get(ctx, "ACME", 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Bids, 1)
	assert.True(t, got.Bids[0].Price.Equal(decimal.RequireFromString("9.5")))
	assert.Equal(t, int64(30), got.Bids[0].Quantity)

	require.NoError(t, repo.Invalidate(ctx, "ACME"))
	assert.False(t, mr.Exists("matching:orderbook:ACME:10"))
	assert.False(t, mr.Exists("matching:orderbook:ACME:5"))
	assert.True(t, mr.Exists("matching:orderbook:OTHER:10"))
}

func TestOrderBookCache_Expires(t *testing.T) {
	ctx := context.Background()
	repo, mr := newRepo(t)

	require.NoError(t, repo.Save(ctx, &domain.OrderBookSnapshot{Symbol: "ACME"}, 10))
	mr.FastForward(2 * time.Second)

	got, err := repo.Get(ctx, "ACME", 10)
	require.NoError(t, err)
	assert.Nil(t, got)
}
