// Package memory 内存版撮合存储，用于测试与本地开发。
// 全局互斥锁保证事务串行执行；事务内的写入先暂存，提交时一次性生效
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

// ErrInjectedConflict 测试注入的序列化冲突
var ErrInjectedConflict = errors.New("injected serialization conflict")

type holdingKey struct {
	accountID string
	symbol    string
}

type txKey struct{}

// staged 事务内的暂存写入
type staged struct {
	orders   map[string]*domain.Order
	holdings map[holdingKey]*domain.Holding
	balances map[string]*domain.AccountBalance
	listings map[string]*domain.Listing
	trades   []*domain.Trade
	prices   []*domain.PricePoint
}

func newStaged() *staged {
	return &staged{
		orders:   make(map[string]*domain.Order),
		holdings: make(map[holdingKey]*domain.Holding),
		balances: make(map[string]*domain.AccountBalance),
		listings: make(map[string]*domain.Listing),
	}
}

// Store 内存存储
type Store struct {
	mu        sync.Mutex
	seq       int64
	orders    map[string]*domain.Order
	holdings  map[holdingKey]*domain.Holding
	balances  map[string]*domain.AccountBalance
	listings  map[string]*domain.Listing
	trades    []*domain.Trade
	prices    []*domain.PricePoint
	conflicts int
}

// NewStore 创建空存储
func NewStore() *Store {
	return &Store{
		orders:   make(map[string]*domain.Order),
		holdings: make(map[holdingKey]*domain.Holding),
		balances: make(map[string]*domain.AccountBalance),
		listings: make(map[string]*domain.Listing),
	}
}

var _ domain.Store = (*Store)(nil)

// InjectConflicts 接下来 n 次事务提交时返回序列化冲突
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// WithSerializableTx 串行执行事务；嵌套调用复用外层事务
func (s *Store) WithSerializableTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*staged); ok {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newStaged()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		return domain.NewTransientConflictError(ErrInjectedConflict)
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *staged) {
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for k, h := range tx.holdings {
		s.holdings[k] = h
	}
	for id, b := range tx.balances {
		s.balances[id] = b
	}
	for sym, l := range tx.listings {
		s.listings[sym] = l
	}
	s.trades = append(s.trades, tx.trades...)
	s.prices = append(s.prices, tx.prices...)
}

// run 在事务内直接使用暂存区，事务外加锁并立即生效
func (s *Store) run(ctx context.Context, fn func(tx *staged)) {
	if tx, ok := ctx.Value(txKey{}).(*staged); ok {
		fn(tx)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := newStaged()
	fn(tx)
	s.commit(tx)
}

func (s *Store) Orders() domain.OrderRepository     { return orderRepository{s} }
func (s *Store) Trades() domain.TradeRepository     { return tradeRepository{s} }
func (s *Store) Holdings() domain.HoldingRepository { return holdingRepository{s} }
func (s *Store) Balances() domain.BalanceRepository { return balanceRepository{s} }
func (s *Store) Prices() domain.PriceRepository     { return priceRepository{s} }
func (s *Store) Listings() domain.ListingRepository { return listingRepository{s} }

// --- orders ---

type orderRepository struct{ s *Store }

func (r orderRepository) lookup(tx *staged, id string) (*domain.Order, bool) {
	if o, ok := tx.orders[id]; ok {
		return o, true
	}
	o, ok := r.s.orders[id]
	return o, ok
}

// visible 已提交与暂存订单的合并视图
func (r orderRepository) visible(tx *staged) []*domain.Order {
	out := make([]*domain.Order, 0, len(r.s.orders)+len(tx.orders))
	for id, o := range r.s.orders {
		if _, ok := tx.orders[id]; !ok {
			out = append(out, o)
		}
	}
	for _, o := range tx.orders {
		out = append(out, o)
	}
	return out
}

func (r orderRepository) Create(ctx context.Context, order *domain.Order) error {
	r.s.run(ctx, func(tx *staged) {
		r.s.seq++
		order.Seq = r.s.seq
		tx.orders[order.ID] = order.Clone()
	})
	return nil
}

func (r orderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var found *domain.Order
	r.s.run(ctx, func(tx *staged) {
		if o, ok := r.lookup(tx, id); ok {
			found = o.Clone()
		}
	})
	if found == nil {
		return nil, domain.NewOrderNotFoundError(id)
	}
	return found, nil
}

func (r orderRepository) Update(ctx context.Context, order *domain.Order) error {
	var err error
	r.s.run(ctx, func(tx *staged) {
		if _, ok := r.lookup(tx, order.ID); !ok {
			err = domain.NewOrderNotFoundError(order.ID)
			return
		}
		tx.orders[order.ID] = order.Clone()
	})
	return err
}

func (r orderRepository) NextCandidate(ctx context.Context, q domain.CandidateQuery) (*domain.Order, error) {
	var best *domain.Order
	r.s.run(ctx, func(tx *staged) {
		for _, o := range r.visible(tx) {
			if !q.Matches(o) {
				continue
			}
			if best == nil || domain.HigherPriority(o, best) {
				best = o
			}
		}
		best = best.Clone()
	})
	return best, nil
}

func (r orderRepository) ListByAccount(ctx context.Context, accountID string, status domain.OrderStatus, limit, offset int) ([]*domain.Order, int64, error) {
	var matched []*domain.Order
	r.s.run(ctx, func(tx *staged) {
		for _, o := range r.visible(tx) {
			if o.AccountID != accountID || (status != "" && o.Status != status) {
				continue
			}
			matched = append(matched, o.Clone())
		}
	})
	// 新订单在前
	sort.Slice(matched, func(i, j int) bool { return domain.Earlier(matched[j], matched[i]) })
	total := int64(len(matched))
	return page(matched, limit, offset), total, nil
}

func (r orderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	var out []*domain.Order
	r.s.run(ctx, func(tx *staged) {
		for _, o := range r.visible(tx) {
			if o.Type == domain.TypeLimit && o.IsOpen() && o.IsExpired(now) {
				out = append(out, o.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return page(out, limit, 0), nil
}

func (r orderRepository) OrderBook(ctx context.Context, symbol string, depth int, now time.Time) (*domain.OrderBookSnapshot, error) {
	var bids, asks []*domain.Order
	r.s.run(ctx, func(tx *staged) {
		for _, o := range r.visible(tx) {
			if o.Symbol != symbol || !o.IsOpen() || !o.HasPrice() || o.IsExpired(now) {
				continue
			}
			if o.Side == domain.SideBuy {
				bids = append(bids, o.Clone())
			} else {
				asks = append(asks, o.Clone())
			}
		}
	})
	domain.SortByPriority(bids)
	domain.SortByPriority(asks)
	return &domain.OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      domain.AggregateLevels(bids, depth),
		Asks:      domain.AggregateLevels(asks, depth),
		Timestamp: now,
	}, nil
}

// --- trades ---

type tradeRepository struct{ s *Store }

func (r tradeRepository) Create(ctx context.Context, trade *domain.Trade) error {
	t := *trade
	r.s.run(ctx, func(tx *staged) {
		tx.trades = append(tx.trades, &t)
	})
	return nil
}

func (r tradeRepository) all(tx *staged) []*domain.Trade {
	out := make([]*domain.Trade, 0, len(r.s.trades)+len(tx.trades))
	out = append(out, r.s.trades...)
	return append(out, tx.trades...)
}

func (r tradeRepository) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	var out []*domain.Trade
	r.s.run(ctx, func(tx *staged) {
		all := r.all(tx)
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].Symbol == symbol {
				t := *all[i]
				out = append(out, &t)
			}
		}
	})
	return page(out, limit, 0), nil
}

func (r tradeRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	var out []*domain.Trade
	r.s.run(ctx, func(tx *staged) {
		for _, t := range r.all(tx) {
			if t.BuyOrderID == orderID || t.SellOrderID == orderID {
				c := *t
				out = append(out, &c)
			}
		}
	})
	return out, nil
}

// --- holdings ---

type holdingRepository struct{ s *Store }

func (r holdingRepository) Get(ctx context.Context, accountID, symbol string) (*domain.Holding, error) {
	var found *domain.Holding
	key := holdingKey{accountID, symbol}
	r.s.run(ctx, func(tx *staged) {
		if h, ok := tx.holdings[key]; ok {
			found = h.Clone()
			return
		}
		found = r.s.holdings[key].Clone()
	})
	return found, nil
}

func (r holdingRepository) Save(ctx context.Context, holding *domain.Holding) error {
	r.s.run(ctx, func(tx *staged) {
		tx.holdings[holdingKey{holding.AccountID, holding.Symbol}] = holding.Clone()
	})
	return nil
}

// --- balances ---

type balanceRepository struct{ s *Store }

func (r balanceRepository) Get(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	var found *domain.AccountBalance
	r.s.run(ctx, func(tx *staged) {
		if b, ok := tx.balances[accountID]; ok {
			found = b.Clone()
			return
		}
		found = r.s.balances[accountID].Clone()
	})
	return found, nil
}

func (r balanceRepository) Save(ctx context.Context, balance *domain.AccountBalance) error {
	var err error
	r.s.run(ctx, func(tx *staged) {
		current, ok := tx.balances[balance.AccountID]
		if !ok {
			current = r.s.balances[balance.AccountID]
		}
		var version int64
		if current != nil {
			version = current.Version
		}
		if version != balance.Version-1 {
			err = domain.NewTransientConflictError(fmt.Errorf("balance of %s changed since version %d", balance.AccountID, balance.Version-1))
			return
		}
		tx.balances[balance.AccountID] = balance.Clone()
	})
	return err
}

// --- prices ---

type priceRepository struct{ s *Store }

func (r priceRepository) Append(ctx context.Context, point *domain.PricePoint) error {
	p := *point
	r.s.run(ctx, func(tx *staged) {
		tx.prices = append(tx.prices, &p)
	})
	return nil
}

func (r priceRepository) bySymbol(tx *staged, symbol string) []*domain.PricePoint {
	var out []*domain.PricePoint
	for _, list := range [][]*domain.PricePoint{r.s.prices, tx.prices} {
		for _, p := range list {
			if p.Symbol == symbol {
				c := *p
				out = append(out, &c)
			}
		}
	}
	return out
}

func (r priceRepository) Latest(ctx context.Context, symbol string) (*domain.PricePoint, error) {
	var latest *domain.PricePoint
	r.s.run(ctx, func(tx *staged) {
		if points := r.bySymbol(tx, symbol); len(points) > 0 {
			latest = points[len(points)-1]
		}
	})
	return latest, nil
}

func (r priceRepository) History(ctx context.Context, symbol string, since time.Time, limit int) ([]*domain.PricePoint, error) {
	var out []*domain.PricePoint
	r.s.run(ctx, func(tx *staged) {
		for _, p := range r.bySymbol(tx, symbol) {
			if !p.Timestamp.Before(since) {
				out = append(out, p)
			}
		}
	})
	// 保留最新的 limit 条，按时间升序
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// --- listings ---

type listingRepository struct{ s *Store }

func (r listingRepository) Get(ctx context.Context, symbol string) (*domain.Listing, error) {
	var found *domain.Listing
	r.s.run(ctx, func(tx *staged) {
		l, ok := tx.listings[symbol]
		if !ok {
			l, ok = r.s.listings[symbol]
		}
		if ok {
			c := *l
			found = &c
		}
	})
	return found, nil
}

func (r listingRepository) Save(ctx context.Context, listing *domain.Listing) error {
	l := *listing
	r.s.run(ctx, func(tx *staged) {
		tx.listings[l.Symbol] = &l
	})
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
