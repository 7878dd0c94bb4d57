package application

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

// PlaceOrderCommand 下单命令
type PlaceOrderCommand struct {
	// 已认证的账户，由调用方保证
	AccountID  string
	Symbol     string
	Side       string
	Type       string
	Quantity   int64
	LimitPrice decimal.NullDecimal
	ExpiresAt  *time.Time
	// 标的是否开放交易，由调用方提供
	Tradeable bool
}

// PlaceOrderResult 下单结果
type PlaceOrderResult struct {
	Order  *domain.Order   `json:"order"`
	Trades []*domain.Trade `json:"trades"`
	// 撮合中因对手方资金/持仓不足而被系统撤销的挂单
	RejectedCounterparties []CounterpartyRejection `json:"rejected_counterparties,omitempty"`
}

// CounterpartyRejection 被撤销的对手方挂单及其错误
type CounterpartyRejection struct {
	OrderID   string           `json:"order_id"`
	AccountID string           `json:"account_id"`
	Code      domain.ErrorCode `json:"code"`
	Reason    string           `json:"reason"`
	Detail    string           `json:"detail"`
}

// CancelOrderCommand 撤单命令
type CancelOrderCommand struct {
	AccountID string
	OrderID   string
}

// DepositCommand 入金
type DepositCommand struct {
	AccountID string
	Amount    decimal.Decimal
}

// SeedHoldingCommand 初始持仓分配（发行）
type SeedHoldingCommand struct {
	AccountID string
	Symbol    string
	Shares    int64
	Price     decimal.Decimal
}

// UpsertListingCommand 创建/更新上市标的
type UpsertListingCommand struct {
	Symbol    string
	Name      string
	Tradeable bool
}

// OrderDetail 订单及其成交
type OrderDetail struct {
	Order  *domain.Order   `json:"order"`
	Trades []*domain.Trade `json:"trades"`
}

// PriceHistory 价格走势
type PriceHistory struct {
	Symbol  string               `json:"symbol"`
	Current *domain.PricePoint   `json:"current,omitempty"`
	Points  []*domain.PricePoint `json:"points"`
}
