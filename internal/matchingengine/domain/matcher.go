package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Matcher 按订单类型区分的撮合策略，下单入口处选定一次
type Matcher interface {
	Type() OrderType
	// Query 构造下一个对手盘查询
	Query(incoming *Order, now time.Time) CandidateQuery
	// Accept 撮合前复核候选单；返回 false 时停止撮合
	Accept(incoming, candidate *Order) bool
	// ExecutionPrice 成交价
	ExecutionPrice(incoming, candidate *Order) decimal.Decimal
}

// MatcherFor 按类型选择撮合策略
func MatcherFor(typ OrderType) (Matcher, error) {
	switch typ {
	case TypeMarket:
		return marketMatcher{}, nil
	case TypeLimit:
		return limitMatcher{}, nil
	}
	return nil, NewInvalidOrderTypeError(string(typ))
}

// 市价单：无价格约束，永远取挂单价
type marketMatcher struct{}

func (marketMatcher) Type() OrderType { return TypeMarket }

func (marketMatcher) Query(incoming *Order, now time.Time) CandidateQuery {
	return NewCandidateQuery(incoming, false, now)
}

func (marketMatcher) Accept(_, candidate *Order) bool {
	return candidate.HasPrice()
}

func (marketMatcher) ExecutionPrice(_, candidate *Order) decimal.Decimal {
	return candidate.LimitPrice.Decimal
}

// 限价单：带价格约束，maker 价成交
type limitMatcher struct{}

func (limitMatcher) Type() OrderType { return TypeLimit }

func (limitMatcher) Query(incoming *Order, now time.Time) CandidateQuery {
	return NewCandidateQuery(incoming, true, now)
}

func (limitMatcher) Accept(incoming, candidate *Order) bool {
	if !incoming.HasPrice() || !candidate.HasPrice() {
		return false
	}
	return PriceSatisfies(incoming.Side, incoming.LimitPrice.Decimal, candidate.LimitPrice.Decimal)
}

func (limitMatcher) ExecutionPrice(incoming, candidate *Order) decimal.Decimal {
	return MakerPrice(incoming, candidate)
}

// MakerPrice 先进入订单簿的一方为 maker，按其价格成交。
// 新下的订单总是晚于挂单，此时挂单价生效
func MakerPrice(incoming, candidate *Order) decimal.Decimal {
	if incoming.HasPrice() && Earlier(incoming, candidate) {
		return incoming.LimitPrice.Decimal
	}
	return candidate.LimitPrice.Decimal
}
