package messaging

import (
	"context"
	"sync"

	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

// Subscription 订阅句柄，C 在取消订阅后关闭
type Subscription struct {
	C      <-chan domain.Envelope
	ch     chan domain.Envelope
	symbol string
}

// EventHub 进程内事件扇出，供 WebSocket 推送使用。
// 订阅者缓冲区满时丢弃该条消息，不阻塞撮合
type EventHub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[*Subscription]struct{})}
}

// Subscribe symbol 为空时接收所有标的
func (h *EventHub) Subscribe(symbol string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan domain.Envelope, buffer)
	sub := &Subscription{C: ch, ch: ch, symbol: symbol}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *EventHub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Subscribers 当前订阅数
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish 实现 domain.EventSink
func (h *EventHub) Publish(_ context.Context, event domain.MatchingEvent) error {
	env := domain.NewEnvelope(event)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.symbol != "" && sub.symbol != env.Symbol {
			continue
		}
		select {
		case sub.ch <- env:
		default:
		}
	}
	return nil
}
