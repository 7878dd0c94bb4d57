package domain

import (
	"context"
	"time"
)

// UnitOfWork 可串行化事务。
// fn 收到的 ctx 携带事务，仓储方法通过 ctx 参与同一事务；fn 返回错误时全部回滚。
// 存储层的序列化冲突以 ErrTransientConflict 返回
type UnitOfWork interface {
	WithSerializableTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository 订单仓储
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	// Get 事务内读取会加行锁；不存在时返回 ErrOrderNotFound
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	// NextCandidate 价格时间优先的最优对手单，没有时返回 nil
	NextCandidate(ctx context.Context, q CandidateQuery) (*Order, error)
	ListByAccount(ctx context.Context, accountID string, status OrderStatus, limit, offset int) ([]*Order, int64, error)
	// ListExpired 已过期但仍未终结的限价单
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Order, error)
	// OrderBook 聚合的买卖盘
	OrderBook(ctx context.Context, symbol string, depth int, now time.Time) (*OrderBookSnapshot, error)
}

// TradeRepository 成交记录仓储，只追加
type TradeRepository interface {
	Create(ctx context.Context, trade *Trade) error
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*Trade, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Trade, error)
}

// HoldingRepository 持仓仓储；不存在时返回 nil, nil
type HoldingRepository interface {
	Get(ctx context.Context, accountID, symbol string) (*Holding, error)
	Save(ctx context.Context, holding *Holding) error
}

// BalanceRepository 资金仓储；不存在时返回 nil, nil
type BalanceRepository interface {
	Get(ctx context.Context, accountID string) (*AccountBalance, error)
	Save(ctx context.Context, balance *AccountBalance) error
}

// PriceRepository 价格 tick 仓储，只追加
type PriceRepository interface {
	Append(ctx context.Context, point *PricePoint) error
	// Latest 最新价格；没有成交时返回 nil, nil
	Latest(ctx context.Context, symbol string) (*PricePoint, error)
	History(ctx context.Context, symbol string, since time.Time, limit int) ([]*PricePoint, error)
}

// ListingRepository 标的仓储；不存在时返回 nil, nil
type ListingRepository interface {
	Get(ctx context.Context, symbol string) (*Listing, error)
	Save(ctx context.Context, listing *Listing) error
}

// Store 撮合引擎依赖的事务性存储
type Store interface {
	UnitOfWork
	Orders() OrderRepository
	Trades() TradeRepository
	Holdings() HoldingRepository
	Balances() BalanceRepository
	Prices() PriceRepository
	Listings() ListingRepository
}

// OrderBookReadRepository 订单簿读模型缓存
type OrderBookReadRepository interface {
	Save(ctx context.Context, snapshot *OrderBookSnapshot, depth int) error
	// Get 未命中时返回 nil, nil
	Get(ctx context.Context, symbol string, depth int) (*OrderBookSnapshot, error)
	Invalidate(ctx context.Context, symbol string) error
}

// SymbolLocker 按标的串行化撮合，不同标的互不阻塞
type SymbolLocker interface {
	Lock(ctx context.Context, symbol string) (unlock func(), err error)
}
