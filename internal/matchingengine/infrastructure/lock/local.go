// Package lock 提供按标的串行化撮合的互斥锁：单进程的本地实现与跨实例的 Redis 实现
package lock

import (
	"context"
	"sync"
)

// LocalLocker 进程内按 key 互斥，等待时响应 ctx 取消
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker 创建本地锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock 获取 symbol 的锁，返回的 unlock 只能调用一次
func (l *LocalLocker) Lock(ctx context.Context, symbol string) (func(), error) {
	ch := l.slot(symbol)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
