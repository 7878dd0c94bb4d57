package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/sharematching/pkg/cache"
)

// ErrLockNotAcquired 等待超时仍未拿到锁
var ErrLockNotAcquired = errors.New("symbol lock not acquired")

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁。
// TTL 内未释放的锁自动过期，持有者需保证单步撮合耗时远小于 TTL
type RedisLocker struct {
	cache   *cache.RedisCache
	prefix  string
	ttl     time.Duration
	maxWait time.Duration
	logger  *slog.Logger
}

// NewRedisLocker 创建分布式锁
func NewRedisLocker(c *cache.RedisCache, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		cache:   c,
		prefix:  "matching:lock:",
		ttl:     ttl,
		maxWait: ttl,
		logger:  logger.With("module", "redis_symbol_locker"),
	}
}

// Lock 轮询获取锁，最多等待一个 TTL
func (l *RedisLocker) Lock(ctx context.Context, symbol string) (func(), error) {
	key := l.prefix + symbol
	token := uuid.NewString()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = l.maxWait

	err := backoff.Retry(func() error {
		ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to acquire lock %s: %w", key, err))
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	}, backoff.WithContext(eb, ctx))
	if err != nil {
		return nil, err
	}

	return func() {
		// 调用方的 ctx 可能已取消，释放必须执行
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if _, err := l.cache.RunScript(releaseCtx, releaseScript, []string{key}, token); err != nil {
			l.logger.WarnContext(ctx, "failed to release symbol lock", "key", key, "error", err)
		}
	}, nil
}
