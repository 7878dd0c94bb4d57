// Package domain 撮合引擎的领域模型：订单、成交、持仓、资金与撮合规则
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide 订单方向
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite 返回对手方向
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid 是否为合法方向
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseOrderSide 解析订单方向（大小写不敏感）
func ParseOrderSide(s string) (OrderSide, bool) {
	side := OrderSide(strings.ToLower(strings.TrimSpace(s)))
	return side, side.Valid()
}

// OrderType 订单类型
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// Valid 是否为合法类型
func (t OrderType) Valid() bool {
	return t == TypeMarket || t == TypeLimit
}

// ParseOrderType 解析订单类型（大小写不敏感）
func ParseOrderType(s string) (OrderType, bool) {
	typ := OrderType(strings.ToLower(strings.TrimSpace(s)))
	return typ, typ.Valid()
}

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPartial   OrderStatus = "partial"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// OpenStatuses 可参与撮合的状态
var OpenStatuses = []OrderStatus{StatusPending, StatusPartial}

// Terminal 是否为终态
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order 订单实体
// 由下单方以 pending 创建；只有成交执行器（成交进度）与生命周期管理（撤单/过期）可以修改；终态订单保留为历史
type Order struct {
	// 订单 ID
	ID string `json:"id"`
	// 下单账户
	AccountID string `json:"account_id"`
	// 标的代码
	Symbol string `json:"symbol"`
	// 订单类型
	Type OrderType `json:"type"`
	// 买卖方向
	Side OrderSide `json:"side"`
	// 委托数量（不可变）
	Quantity int64 `json:"quantity"`
	// 限价，仅限价单有效
	LimitPrice decimal.NullDecimal `json:"limit_price"`
	// 已成交数量
	FilledQuantity int64 `json:"filled_quantity"`
	// 剩余数量
	RemainingQuantity int64 `json:"remaining_quantity"`
	// 撤单时释放的数量；未撤单时恒为 0
	CancelledQuantity int64 `json:"cancelled_quantity"`
	// 状态
	Status OrderStatus `json:"status"`
	// 撤单原因（cancelled 状态下有效）
	CancelReason string `json:"cancel_reason,omitempty"`
	// 创建时间，用于时间优先
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// 过期时间，仅限价单
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// 存储层分配的插入序号，同一 CreatedAt 下保证 FIFO
	Seq int64 `json:"-"`
}

// NewOrder 创建 pending 订单
func NewOrder(id, accountID, symbol string, typ OrderType, side OrderSide, quantity int64, limitPrice decimal.NullDecimal, expiresAt *time.Time, now time.Time) *Order {
	return &Order{
		ID:                id,
		AccountID:         accountID,
		Symbol:            symbol,
		Type:              typ,
		Side:              side,
		Quantity:          quantity,
		LimitPrice:        limitPrice,
		FilledQuantity:    0,
		RemainingQuantity: quantity,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         expiresAt,
	}
}

// IsOpen 是否仍可撮合
func (o *Order) IsOpen() bool {
	return (o.Status == StatusPending || o.Status == StatusPartial) && o.RemainingQuantity > 0
}

// HasPrice 是否带有价格（只有限价单才能成为对手盘）
func (o *Order) HasPrice() bool {
	return o.LimitPrice.Valid
}

// IsExpired 限价单是否已过期
func (o *Order) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// QuantityConsistent 校验 filled + remaining == quantity。
// 撤单后 remaining 归零，释放的部分记在 CancelledQuantity 中
func (o *Order) QuantityConsistent() bool {
	if o.FilledQuantity < 0 || o.RemainingQuantity < 0 || o.CancelledQuantity < 0 {
		return false
	}
	if o.Status != StatusCancelled && o.CancelledQuantity != 0 {
		return false
	}
	return o.FilledQuantity+o.RemainingQuantity+o.CancelledQuantity == o.Quantity
}

// Clone 深拷贝
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}
