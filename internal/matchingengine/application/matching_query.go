package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

const (
	defaultDepth     = 10
	maxDepth         = 100
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// MatchingQueryService 处理撮合引擎的只读查询
type MatchingQueryService struct {
	store        domain.Store
	bookCache    domain.OrderBookReadRepository
	logger       *slog.Logger
	defaultDepth int
	now          func() time.Time
}

// NewMatchingQueryService 构造函数。bookCache 可为 nil
func NewMatchingQueryService(store domain.Store, bookCache domain.OrderBookReadRepository, logger *slog.Logger, depth int) *MatchingQueryService {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &MatchingQueryService{
		store:        store,
		bookCache:    bookCache,
		logger:       logger.With("module", "matching_query_service"),
		defaultDepth: depth,
		now:          time.Now,
	}
}

// SetClock 替换时钟
func (q *MatchingQueryService) SetClock(now func() time.Time) {
	q.now = now
}

// GetOrder 查询订单及其成交，只有下单账户可见
func (q *MatchingQueryService) GetOrder(ctx context.Context, accountID, orderID string) (*OrderDetail, error) {
	order, err := q.store.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, domain.NewUnauthorizedError(orderID, accountID)
	}
	trades, err := q.store.Trades().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades for order %s: %w", orderID, err)
	}
	return &OrderDetail{Order: order, Trades: trades}, nil
}

// ListOrders 分页查询账户订单，status 为空时不过滤
func (q *MatchingQueryService) ListOrders(ctx context.Context, accountID, status string, limit, offset int) ([]*domain.Order, int64, error) {
	if accountID == "" {
		return nil, 0, domain.NewUnauthorizedError("", "")
	}
	return q.store.Orders().ListByAccount(ctx, accountID, domain.OrderStatus(status), clampLimit(limit), max(offset, 0))
}

// GetTrades 标的最近成交，最新在前
func (q *MatchingQueryService) GetTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return q.store.Trades().ListBySymbol(ctx, NormalizeSymbol(symbol), clampLimit(limit))
}

// GetCurrentPrice 最新成交价；没有成交时返回 nil
func (q *MatchingQueryService) GetCurrentPrice(ctx context.Context, symbol string) (*domain.PricePoint, error) {
	return q.store.Prices().Latest(ctx, NormalizeSymbol(symbol))
}

// GetPriceHistory since 之后的价格 tick，按时间升序
func (q *MatchingQueryService) GetPriceHistory(ctx context.Context, symbol string, since time.Time, limit int) (*PriceHistory, error) {
	symbol = NormalizeSymbol(symbol)
	points, err := q.store.Prices().History(ctx, symbol, since, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	current, err := q.store.Prices().Latest(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &PriceHistory{Symbol: symbol, Current: current, Points: points}, nil
}

// GetHolding 账户持仓；不存在时返回零持仓
func (q *MatchingQueryService) GetHolding(ctx context.Context, accountID, symbol string) (*domain.Holding, error) {
	symbol = NormalizeSymbol(symbol)
	h, err := q.store.Holdings().Get(ctx, accountID, symbol)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = &domain.Holding{
			AccountID:       accountID,
			Symbol:          symbol,
			AverageBuyPrice: decimal.Zero,
			TotalInvested:   decimal.Zero,
		}
	}
	return h, nil
}

// GetBalance 账户资金；不存在时返回零余额
func (q *MatchingQueryService) GetBalance(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	b, err := q.store.Balances().Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = &domain.AccountBalance{AccountID: accountID, Balance: decimal.Zero}
	}
	return b, nil
}

// GetOrderBook 聚合买卖盘，优先读缓存，未命中时查询存储并回填
func (q *MatchingQueryService) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderBookSnapshot, error) {
	symbol = NormalizeSymbol(symbol)
	if depth <= 0 {
		depth = q.defaultDepth
	}
	depth = min(depth, maxDepth)

	if q.bookCache != nil {
		cached, err := q.bookCache.Get(ctx, symbol, depth)
		if err != nil {
			q.logger.WarnContext(ctx, "failed to read order book cache", "symbol", symbol, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	snapshot, err := q.store.Orders().OrderBook(ctx, symbol, depth, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to build order book for %s: %w", symbol, err)
	}
	if q.bookCache != nil {
		if err := q.bookCache.Save(ctx, snapshot, depth); err != nil {
			q.logger.WarnContext(ctx, "failed to write order book cache", "symbol", symbol, "error", err)
		}
	}
	return snapshot, nil
}

// GetListing 查询标的；不存在时返回 ErrSymbolNotFound
func (q *MatchingQueryService) GetListing(ctx context.Context, symbol string) (*domain.Listing, error) {
	symbol = NormalizeSymbol(symbol)
	l, err := q.store.Listings().Get(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, domain.NewSymbolNotFoundError(symbol)
	}
	return l, nil
}

// IsTradeable 标的是否存在且开放交易
func (q *MatchingQueryService) IsTradeable(ctx context.Context, symbol string) (bool, error) {
	l, err := q.store.Listings().Get(ctx, NormalizeSymbol(symbol))
	if err != nil {
		return false, err
	}
	return l != nil && l.Tradeable, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	return min(limit, maxPageLimit)
}
