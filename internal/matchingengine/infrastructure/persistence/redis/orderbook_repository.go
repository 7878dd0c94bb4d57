// Package redis 订单簿快照的 Redis 读模型缓存
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/pkg/cache"
)

// OrderBookRedisRepository 按 (symbol, depth) 缓存聚合订单簿，短 TTL，变更时整体失效
type OrderBookRedisRepository struct {
	cache  *cache.RedisCache
	prefix string
	ttl    time.Duration
}

func NewOrderBookRedisRepository(c *cache.RedisCache, ttl time.Duration) *OrderBookRedisRepository {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &OrderBookRedisRepository{
		cache:  c,
		prefix: "matching:orderbook:",
		ttl:    ttl,
	}
}

func (r *OrderBookRedisRepository) Save(ctx context.Context, snapshot *domain.OrderBookSnapshot, depth int) error {
	if snapshot == nil {
		return nil
	}
	if err := r.cache.SetJSON(ctx, r.key(snapshot.Symbol, depth), snapshot, r.ttl); err != nil {
		return fmt.Errorf("failed to cache orderbook snapshot: %w", err)
	}
	return nil
}

func (r *OrderBookRedisRepository) Get(ctx context.Context, symbol string, depth int) (*domain.OrderBookSnapshot, error) {
	var snapshot domain.OrderBookSnapshot
	hit, err := r.cache.GetJSON(ctx, r.key(symbol, depth), &snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to get orderbook snapshot from redis: %w", err)
	}
	if !hit {
		return nil, nil
	}
	return &snapshot, nil
}

// Invalidate 删除该标的所有深度的快照
func (r *OrderBookRedisRepository) Invalidate(ctx context.Context, symbol string) error {
	return r.cache.DeleteByPattern(ctx, fmt.Sprintf("%s%s:*", r.prefix, symbol))
}

func (r *OrderBookRedisRepository) key(symbol string, depth int) string {
	if depth <= 0 {
		depth = 0
	}
	return fmt.Sprintf("%s%s:%d", r.prefix, symbol, depth)
}
