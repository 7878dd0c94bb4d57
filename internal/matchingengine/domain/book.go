package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CandidateQuery 对手盘查询条件
type CandidateQuery struct {
	Symbol string
	// 需要的对手方向
	Side OrderSide
	// 排除的账户（禁止自成交）
	ExcludeAccountID string
	// 价格上/下界，仅限价单
	PriceBound decimal.NullDecimal
	// 用于过滤已过期订单
	Now   time.Time
	Limit int
}

// NewCandidateQuery 根据新订单构造对手盘查询；bounded 为 false 时不带价格约束
func NewCandidateQuery(incoming *Order, bounded bool, now time.Time) CandidateQuery {
	q := CandidateQuery{
		Symbol:           incoming.Symbol,
		Side:             incoming.Side.Opposite(),
		ExcludeAccountID: incoming.AccountID,
		Now:              now,
		Limit:            1,
	}
	if bounded {
		q.PriceBound = incoming.LimitPrice
	}
	return q
}

// Matches 候选单是否满足查询条件
func (q CandidateQuery) Matches(o *Order) bool {
	if o.Symbol != q.Symbol || o.Side != q.Side || !o.IsOpen() || !o.HasPrice() {
		return false
	}
	if o.AccountID == q.ExcludeAccountID || o.IsExpired(q.Now) {
		return false
	}
	if q.PriceBound.Valid && !PriceSatisfies(q.Side.Opposite(), q.PriceBound.Decimal, o.LimitPrice.Decimal) {
		return false
	}
	return true
}

// PriceSatisfies 价格校验：买单要求对手卖价 ≤ 限价，卖单要求对手买价 ≥ 限价
func PriceSatisfies(incomingSide OrderSide, limit, candidatePrice decimal.Decimal) bool {
	if incomingSide == SideBuy {
		return candidatePrice.LessThanOrEqual(limit)
	}
	return candidatePrice.GreaterThanOrEqual(limit)
}

// HigherPriority 价格优先、时间优先：卖盘低价在前，买盘高价在前，同价按 CreatedAt 再按 Seq
func HigherPriority(a, b *Order) bool {
	pa, pb := a.LimitPrice.Decimal, b.LimitPrice.Decimal
	if !pa.Equal(pb) {
		if a.Side == SideSell {
			return pa.LessThan(pb)
		}
		return pa.GreaterThan(pb)
	}
	return Earlier(a, b)
}

// Earlier a 是否早于 b 进入订单簿
func Earlier(a, b *Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// SortByPriority 按价格时间优先排序
func SortByPriority(orders []*Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return HigherPriority(orders[i], orders[j])
	})
}

// OrderBookLevel 价位聚合
type OrderBookLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	OrderCount int             `json:"order_count"`
}

// OrderBookSnapshot 订单簿快照，最终一致
type OrderBookSnapshot struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// AggregateLevels 将同一方向的挂单按价位聚合，输入须已按优先级排序
func AggregateLevels(sorted []*Order, depth int) []OrderBookLevel {
	levels := make([]OrderBookLevel, 0)
	for _, o := range sorted {
		n := len(levels)
		if n > 0 && levels[n-1].Price.Equal(o.LimitPrice.Decimal) {
			levels[n-1].Quantity += o.RemainingQuantity
			levels[n-1].OrderCount++
			continue
		}
		if depth > 0 && n == depth {
			break
		}
		levels = append(levels, OrderBookLevel{
			Price:      o.LimitPrice.Decimal,
			Quantity:   o.RemainingQuantity,
			OrderCount: 1,
		})
	}
	return levels
}
