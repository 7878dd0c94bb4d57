package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/pkg/logger"
	"github.com/wyfcoding/sharematching/pkg/metrics"
)

// 连续多少步未成交且未结束时放弃本轮撮合（候选单反复失效）
const maxStaleSteps = 3

// Options 撮合参数
type Options struct {
	FeeRate decimal.Decimal
	// 每个事务的最大尝试次数（含首次）
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		FeeRate:         domain.DefaultFeeRate,
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

// MatchingCommandService 处理撮合引擎的写操作：下单、撤单、过期、入金、发行与上市
type MatchingCommandService struct {
	store     domain.Store
	locker    domain.SymbolLocker
	notifier  *Notifier
	bookCache domain.OrderBookReadRepository
	executor  *domain.TradeExecutor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options
	newID     func() string
	now       func() time.Time
}

// NewMatchingCommandService 构造函数。bookCache、notifier、metrics 可为 nil
func NewMatchingCommandService(
	store domain.Store,
	locker domain.SymbolLocker,
	notifier *Notifier,
	bookCache domain.OrderBookReadRepository,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts Options,
) *MatchingCommandService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	s := &MatchingCommandService{
		store:     store,
		locker:    locker,
		notifier:  notifier,
		bookCache: bookCache,
		metrics:   m,
		logger:    logger.With("module", "matching_command_service"),
		opts:      opts,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	s.executor = domain.NewTradeExecutor(store, domain.NewFeeSchedule(opts.FeeRate),
		func() string { return s.newID() },
		func() time.Time { return s.now() })
	return s
}

// SetClock 替换时钟
func (s *MatchingCommandService) SetClock(now func() time.Time) {
	s.now = now
}

// SetIDGenerator 替换 ID 生成器
func (s *MatchingCommandService) SetIDGenerator(newID func() string) {
	s.newID = newID
}

// PlaceOrder 下单并立即撮合。
// 撮合失败时仍可能返回结果：之前已成交的部分保持提交，Order 为最终状态
func (s *MatchingCommandService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*PlaceOrderResult, error) {
	start := time.Now()
	defer logger.LogDuration(ctx, "Order placement finished",
		"account_id", cmd.AccountID,
		"symbol", cmd.Symbol,
	)()
	defer func() { s.metrics.ObserveMatch(time.Since(start)) }()

	res, err := s.placeOrder(ctx, cmd)
	if err != nil {
		s.recordRejection(err)
	}
	return res, err
}

func (s *MatchingCommandService) placeOrder(ctx context.Context, cmd PlaceOrderCommand) (*PlaceOrderResult, error) {
	now := s.now()
	v, err := validatePlaceOrder(cmd, now)
	if err != nil {
		return nil, err
	}

	symbol := NormalizeSymbol(cmd.Symbol)
	listing, err := s.store.Listings().Get(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", symbol, err)
	}
	if listing == nil {
		return nil, domain.NewSymbolNotFoundError(symbol)
	}
	if !cmd.Tradeable {
		return nil, domain.NewSymbolNotTradeableError(symbol)
	}

	matcher, err := domain.MatcherFor(v.Type)
	if err != nil {
		return nil, err
	}

	order := domain.NewOrder(s.newID(), cmd.AccountID, symbol, v.Type, v.Side, v.Quantity, v.LimitPrice, v.ExpiresAt, now)
	if err := s.withRetry(ctx, func() error {
		return s.store.WithSerializableTx(ctx, func(txCtx context.Context) error {
			return s.store.Orders().Create(txCtx, order)
		})
	}); err != nil {
		return nil, err
	}
	s.metrics.RecordOrder(string(order.Type), string(order.Side))
	s.logger.InfoContext(ctx, "order accepted",
		"order_id", order.ID,
		"symbol", symbol,
		"type", order.Type,
		"side", order.Side,
		"quantity", order.Quantity)
	s.notifier.Notify(ctx, domain.NewOrderPlacedEvent(order))

	trades, rejected, matchErr := s.match(ctx, matcher, order)

	// 首次撮合即因本方资金/持仓不足失败：不产生成交，订单以撤单状态留存
	if matchErr != nil && len(trades) == 0 {
		if reason, ok := shortfallReason(matchErr); ok {
			if _, err := s.cancelWith(ctx, order.ID, order.Symbol, func(o *domain.Order, now time.Time) error {
				return o.Reject(reason, now)
			}); err != nil {
				s.logger.ErrorContext(ctx, "failed to reject order after shortfall", "order_id", order.ID, "error", err)
			}
		}
	}

	final, err := s.store.Orders().Get(ctx, order.ID)
	if err != nil {
		if matchErr == nil {
			return nil, fmt.Errorf("failed to reload order %s: %w", order.ID, err)
		}
		final = order
	}
	s.afterBookChange(ctx, symbol)

	result := &PlaceOrderResult{Order: final, Trades: trades, RejectedCounterparties: rejected}
	if matchErr != nil {
		s.logger.WarnContext(ctx, "matching stopped with error",
			"order_id", order.ID,
			"trades", len(trades),
			"error", matchErr)
		return result, matchErr
	}
	s.logger.InfoContext(ctx, "order matched",
		"order_id", order.ID,
		"status", final.Status,
		"filled", final.FilledQuantity,
		"remaining", final.RemainingQuantity,
		"trades", len(trades))
	return result, nil
}

// ValidatePlaceOrder 仅做输入校验，不访问存储。接口层在查询上市状态前调用
func (s *MatchingCommandService) ValidatePlaceOrder(cmd PlaceOrderCommand) error {
	if _, err := validatePlaceOrder(cmd, s.now()); err != nil {
		s.recordRejection(err)
		return err
	}
	return nil
}

func validatePlaceOrder(cmd PlaceOrderCommand, now time.Time) (domain.ValidatedOrder, error) {
	if cmd.AccountID == "" {
		return domain.ValidatedOrder{}, domain.NewUnauthorizedError("", "")
	}
	return domain.OrderRequest{
		AccountID:  cmd.AccountID,
		Symbol:     cmd.Symbol,
		Side:       cmd.Side,
		Type:       cmd.Type,
		Quantity:   cmd.Quantity,
		LimitPrice: cmd.LimitPrice,
		ExpiresAt:  cmd.ExpiresAt,
	}.Validate(now)
}

// match 循环撮合直到订单成交完毕、订单簿耗尽或价格条件不满足。
// 每一步单独加锁并开启事务，事件在提交后发出
func (s *MatchingCommandService) match(ctx context.Context, matcher domain.Matcher, order *domain.Order) ([]*domain.Trade, []CounterpartyRejection, error) {
	trades := make([]*domain.Trade, 0)
	var rejected []CounterpartyRejection
	stale := 0
	for {
		if err := ctx.Err(); err != nil {
			return trades, rejected, err
		}
		trade, done, err := s.matchStep(ctx, matcher, order.ID, order.Symbol)
		if err != nil {
			// 对手方资金/持仓不足：撤掉该对手单后继续
			var me *domain.MatchError
			if reason, ok := shortfallReason(err); ok && errors.As(err, &me) && me.AccountID != order.AccountID && me.CandidateID != "" {
				if _, cerr := s.cancelWith(ctx, me.CandidateID, order.Symbol, func(o *domain.Order, now time.Time) error {
					return o.Reject(reason, now)
				}); cerr != nil {
					// 对手单已被其所有者撤销或已成交，重新取下一档
					if errors.Is(cerr, domain.ErrOrderAlreadyCancelled) || errors.Is(cerr, domain.ErrOrderAlreadyFilled) {
						continue
					}
					return trades, rejected, cerr
				}
				rejected = append(rejected, CounterpartyRejection{
					OrderID:   me.CandidateID,
					AccountID: me.AccountID,
					Code:      me.Code,
					Reason:    reason,
					Detail:    me.Error(),
				})
				s.logger.WarnContext(ctx, "cancelled resting order with shortfall",
					"order_id", me.CandidateID,
					"account_id", me.AccountID,
					"reason", reason)
				continue
			}
			return trades, rejected, err
		}
		if trade != nil {
			stale = 0
			trades = append(trades, trade)
			s.metrics.RecordTrade(trade.Quantity)
			s.notifier.Notify(ctx, domain.NewTradeExecutedEvent(trade))
		} else if !done {
			stale++
			if stale >= maxStaleSteps {
				return trades, rejected, nil
			}
		}
		if done {
			return trades, rejected, nil
		}
	}
}

// matchStep 在标的锁与可串行化事务内撮合一笔
func (s *MatchingCommandService) matchStep(ctx context.Context, matcher domain.Matcher, orderID, symbol string) (*domain.Trade, bool, error) {
	unlock, err := s.lockSymbol(ctx, symbol)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var (
		trade *domain.Trade
		done  bool
	)
	err = s.withRetry(ctx, func() error {
		trade, done = nil, false
		return s.store.WithSerializableTx(ctx, func(txCtx context.Context) error {
			incoming, err := s.store.Orders().Get(txCtx, orderID)
			if err != nil {
				return err
			}
			if !incoming.IsOpen() {
				done = true
				return nil
			}
			candidate, err := s.store.Orders().NextCandidate(txCtx, matcher.Query(incoming, s.now()))
			if err != nil {
				return fmt.Errorf("failed to query candidates: %w", err)
			}
			// 订单簿耗尽或价格条件不再满足，剩余部分挂单
			if candidate == nil || !matcher.Accept(incoming, candidate) {
				done = true
				return nil
			}
			quantity := min(incoming.RemainingQuantity, candidate.RemainingQuantity)
			t, err := s.executor.Execute(txCtx, incoming, candidate, quantity, matcher.ExecutionPrice(incoming, candidate))
			if errors.Is(err, domain.ErrStaleCandidate) {
				return nil
			}
			if err != nil {
				return err
			}
			trade = t
			done = incoming.RemainingQuantity == 0
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return trade, done, nil
}

// CancelOrder 用户撤单
func (s *MatchingCommandService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (*domain.Order, error) {
	existing, err := s.store.Orders().Get(ctx, cmd.OrderID)
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}
	if existing.AccountID != cmd.AccountID {
		err := domain.NewUnauthorizedError(cmd.OrderID, cmd.AccountID)
		s.recordRejection(err)
		return nil, err
	}
	order, err := s.cancelWith(ctx, existing.ID, existing.Symbol, func(o *domain.Order, now time.Time) error {
		return o.Cancel(cmd.AccountID, now)
	})
	if err != nil {
		s.recordRejection(err)
		return nil, err
	}
	s.afterBookChange(ctx, order.Symbol)
	s.logger.InfoContext(ctx, "order cancelled", "order_id", order.ID, "released", order.CancelledQuantity)
	return order, nil
}

// ExpireOrders 撤销已过期的限价单，返回处理数量
func (s *MatchingCommandService) ExpireOrders(ctx context.Context, limit int) (int, error) {
	expired, err := s.store.Orders().ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired orders: %w", err)
	}
	count := 0
	touched := make(map[string]struct{})
	for _, o := range expired {
		if ctx.Err() != nil {
			break
		}
		_, err := s.cancelWith(ctx, o.ID, o.Symbol, func(ord *domain.Order, now time.Time) error {
			return ord.Expire(now)
		})
		if err != nil {
			// 与撮合或撤单竞争失败，订单已终结
			switch domain.CodeOf(err) {
			case domain.ErrOrderAlreadyFilled, domain.ErrOrderAlreadyCancelled:
				continue
			}
			s.logger.WarnContext(ctx, "failed to expire order", "order_id", o.ID, "error", err)
			continue
		}
		count++
		touched[o.Symbol] = struct{}{}
	}
	for symbol := range touched {
		s.afterBookChange(ctx, symbol)
	}
	return count, nil
}

// lockSymbol 获取标的锁。调用方主动取消时原样返回，其余失败（等锁超时、锁后端不可用）均为可重试冲突
func (s *MatchingCommandService) lockSymbol(ctx context.Context, symbol string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, symbol)
	if err == nil {
		return unlock, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	s.logger.WarnContext(ctx, "symbol lock not acquired", "symbol", symbol, "error", err)
	return nil, domain.NewSymbolBusyError(symbol, err)
}

// cancelWith 在标的锁与事务内对订单执行一次撤单类迁移，提交后发出撤单事件
func (s *MatchingCommandService) cancelWith(ctx context.Context, orderID, symbol string, apply func(o *domain.Order, now time.Time) error) (*domain.Order, error) {
	unlock, err := s.lockSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var cancelled *domain.Order
	err = s.withRetry(ctx, func() error {
		return s.store.WithSerializableTx(ctx, func(txCtx context.Context) error {
			o, err := s.store.Orders().Get(txCtx, orderID)
			if err != nil {
				return err
			}
			if err := apply(o, s.now()); err != nil {
				return err
			}
			cancelled = o
			return s.store.Orders().Update(txCtx, o)
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCancellation(cancelled.CancelReason)
	s.notifier.Notify(ctx, domain.NewOrderCancelledEvent(cancelled))
	return cancelled, nil
}

// Deposit 入金
func (s *MatchingCommandService) Deposit(ctx context.Context, cmd DepositCommand) (*domain.AccountBalance, error) {
	if cmd.AccountID == "" {
		return nil, domain.NewUnauthorizedError("", "")
	}
	if !cmd.Amount.IsPositive() {
		return nil, domain.NewInvalidAmountError(cmd.Amount)
	}
	var balance *domain.AccountBalance
	err := s.withRetry(ctx, func() error {
		return s.store.WithSerializableTx(ctx, func(txCtx context.Context) error {
			now := s.now()
			b, err := s.store.Balances().Get(txCtx, cmd.AccountID)
			if err != nil {
				return err
			}
			if b == nil {
				b = domain.NewAccountBalance(cmd.AccountID, now)
			}
			b.Credit(cmd.Amount, now)
			balance = b
			return s.store.Balances().Save(txCtx, b)
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "deposit credited", "account_id", cmd.AccountID, "amount", cmd.Amount, "balance", balance.Balance)
	return balance, nil
}

// SeedHolding 初始股份分配
func (s *MatchingCommandService) SeedHolding(ctx context.Context, cmd SeedHoldingCommand) (*domain.Holding, error) {
	if cmd.AccountID == "" {
		return nil, domain.NewUnauthorizedError("", "")
	}
	if cmd.Shares <= 0 {
		return nil, domain.NewInvalidQuantityError(cmd.Shares)
	}
	if cmd.Price.IsNegative() {
		return nil, domain.NewInvalidPriceError("issue price must not be negative")
	}
	symbol := NormalizeSymbol(cmd.Symbol)
	var holding *domain.Holding
	err := s.withRetry(ctx, func() error {
		return s.store.WithSerializableTx(ctx, func(txCtx context.Context) error {
			listing, err := s.store.Listings().Get(txCtx, symbol)
			if err != nil {
				return err
			}
			if listing == nil {
				return domain.NewSymbolNotFoundError(symbol)
			}
			now := s.now()
			h, err := s.store.Holdings().Get(txCtx, cmd.AccountID, symbol)
			if err != nil {
				return err
			}
			if h == nil {
				h = domain.NewHolding(cmd.AccountID, symbol, now)
			}
			h.Buy(cmd.Shares, cmd.Price, now)
			holding = h
			return s.store.Holdings().Save(txCtx, h)
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "holding seeded", "account_id", cmd.AccountID, "symbol", symbol, "shares", cmd.Shares)
	return holding, nil
}

// UpsertListing 创建或更新上市标的
func (s *MatchingCommandService) UpsertListing(ctx context.Context, cmd UpsertListingCommand) (*domain.Listing, error) {
	symbol := NormalizeSymbol(cmd.Symbol)
	if symbol == "" {
		return nil, domain.NewSymbolNotFoundError(cmd.Symbol)
	}
	var listing *domain.Listing
	err := s.withRetry(ctx, func() error {
		return s.store.WithSerializableTx(ctx, func(txCtx context.Context) error {
			now := s.now()
			l, err := s.store.Listings().Get(txCtx, symbol)
			if err != nil {
				return err
			}
			if l == nil {
				l = &domain.Listing{Symbol: symbol, CreatedAt: now}
			}
			l.Name = cmd.Name
			if l.Name == "" {
				l.Name = symbol
			}
			l.Tradeable = cmd.Tradeable
			l.UpdatedAt = now
			listing = l
			return s.store.Listings().Save(txCtx, l)
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "listing saved", "symbol", symbol, "tradeable", listing.Tradeable)
	return listing, nil
}

// withRetry 序列化冲突时指数退避重试，其余错误立即返回
func (s *MatchingCommandService) withRetry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.InitialInterval
	eb.MaxInterval = s.opts.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.opts.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil || domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		s.metrics.RecordConflictRetry()
		s.logger.WarnContext(ctx, "serialization conflict, retrying",
			"attempt", attempt,
			"wait", wait,
			"error", err)
	})
}

// afterBookChange 订单簿变化：清理快照缓存并发出提示事件
func (s *MatchingCommandService) afterBookChange(ctx context.Context, symbol string) {
	if s.bookCache != nil {
		if err := s.bookCache.Invalidate(ctx, symbol); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate order book cache", "symbol", symbol, "error", err)
		}
	}
	s.notifier.Notify(ctx, domain.NewOrderBookChangedEvent(symbol, s.now()))
}

func (s *MatchingCommandService) recordRejection(err error) {
	code := string(domain.CodeOf(err))
	if code == "" {
		code = "INTERNAL"
	}
	s.metrics.RecordRejection(code)
}

// shortfallReason 资金/持仓不足对应的撤单原因
func shortfallReason(err error) (string, bool) {
	switch domain.CodeOf(err) {
	case domain.ErrInsufficientFunds:
		return domain.CancelReasonInsufficientFunds, true
	case domain.ErrInsufficientShares:
		return domain.CancelReasonInsufficientShares, true
	}
	return "", false
}

// NormalizeSymbol 标的代码统一为大写
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
