package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// 事件类型，同时作为消息主题
const (
	EventTradeExecuted    = "matching.trade.executed"
	EventOrderPlaced      = "matching.order.placed"
	EventOrderCancelled   = "matching.order.cancelled"
	EventOrderBookChanged = "matching.orderbook.changed"
)

// MatchingEvent 撮合引擎领域事件
type MatchingEvent interface {
	EventType() string
	OccurredAt() time.Time
	// Key 分区键，同一标的的事件有序
	Key() string
}

// EventSink 事件投递端，至少一次、尽力而为
type EventSink interface {
	Publish(ctx context.Context, event MatchingEvent) error
}

// BaseEvent 基础事件结构
type BaseEvent struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt 返回事件发生时间
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// Key 返回标的代码
func (e BaseEvent) Key() string { return e.Symbol }

// TradeExecutedEvent 成交事件
type TradeExecutedEvent struct {
	BaseEvent
	TradeID     string          `json:"trade_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	BuyOrderID  string          `json:"buyer_order_id"`
	SellOrderID string          `json:"seller_order_id"`
}

func (TradeExecutedEvent) EventType() string { return EventTradeExecuted }

// OrderPlacedEvent 下单事件
type OrderPlacedEvent struct {
	BaseEvent
	OrderID string    `json:"order_id"`
	Side    OrderSide `json:"side"`
}

func (OrderPlacedEvent) EventType() string { return EventOrderPlaced }

// OrderCancelledEvent 撤单事件（含过期）
type OrderCancelledEvent struct {
	BaseEvent
	OrderID string    `json:"order_id"`
	Side    OrderSide `json:"side"`
	Reason  string    `json:"reason"`
}

func (OrderCancelledEvent) EventType() string { return EventOrderCancelled }

// OrderBookChangedEvent 订单簿变化提示，不携带快照
type OrderBookChangedEvent struct {
	BaseEvent
}

func (OrderBookChangedEvent) EventType() string { return EventOrderBookChanged }

// NewTradeExecutedEvent 由成交记录生成事件
func NewTradeExecutedEvent(t *Trade) TradeExecutedEvent {
	return TradeExecutedEvent{
		BaseEvent:   BaseEvent{Symbol: t.Symbol, Timestamp: t.ExecutedAt},
		TradeID:     t.ID,
		Price:       t.Price,
		Quantity:    t.Quantity,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
	}
}

// NewOrderPlacedEvent 下单事件
func NewOrderPlacedEvent(o *Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		BaseEvent: BaseEvent{Symbol: o.Symbol, Timestamp: o.CreatedAt},
		OrderID:   o.ID,
		Side:      o.Side,
	}
}

// NewOrderCancelledEvent 撤单事件
func NewOrderCancelledEvent(o *Order) OrderCancelledEvent {
	return OrderCancelledEvent{
		BaseEvent: BaseEvent{Symbol: o.Symbol, Timestamp: o.UpdatedAt},
		OrderID:   o.ID,
		Side:      o.Side,
		Reason:    o.CancelReason,
	}
}

// NewOrderBookChangedEvent 订单簿变化事件
func NewOrderBookChangedEvent(symbol string, at time.Time) OrderBookChangedEvent {
	return OrderBookChangedEvent{BaseEvent: BaseEvent{Symbol: symbol, Timestamp: at}}
}

// Envelope 对外传输的事件信封
type Envelope struct {
	Type       string        `json:"type"`
	Symbol     string        `json:"symbol"`
	OccurredAt time.Time     `json:"occurred_at"`
	Data       MatchingEvent `json:"data"`
}

// NewEnvelope 封装事件
func NewEnvelope(e MatchingEvent) Envelope {
	return Envelope{
		Type:       e.EventType(),
		Symbol:     e.Key(),
		OccurredAt: e.OccurredAt(),
		Data:       e,
	}
}
