package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrStaleCandidate 候选单在读取后已失效（被撤单或已成交），调用方应跳过而不是报错
var ErrStaleCandidate = errors.New("matching candidate is no longer valid")

// TradeExecutor 成交执行器：资金、持仓、订单状态与价格记录在同一事务内一起变更
type TradeExecutor struct {
	store Store
	fees  FeeSchedule
	newID func() string
	now   func() time.Time
}

// NewTradeExecutor 创建成交执行器
func NewTradeExecutor(store Store, fees FeeSchedule, newID func() string, now func() time.Time) *TradeExecutor {
	if now == nil {
		now = time.Now
	}
	return &TradeExecutor{store: store, fees: fees, newID: newID, now: now}
}

// Execute 执行一笔撮合。必须在 UnitOfWork 的事务 ctx 内调用，
// 任一步骤失败时由外层事务整体回滚。incoming 与 candidate 的成交进度在返回前已写回存储
func (e *TradeExecutor) Execute(ctx context.Context, incoming, candidate *Order, quantity int64, price decimal.Decimal) (*Trade, error) {
	if !incoming.IsOpen() || !candidate.IsOpen() || candidate.RemainingQuantity < quantity || incoming.RemainingQuantity < quantity {
		return nil, ErrStaleCandidate
	}
	if incoming.AccountID == candidate.AccountID || incoming.Side == candidate.Side || incoming.Symbol != candidate.Symbol {
		return nil, ErrStaleCandidate
	}

	buyOrder, sellOrder := incoming, candidate
	if incoming.Side == SideSell {
		buyOrder, sellOrder = candidate, incoming
	}
	now := e.now()
	total := Notional(quantity, price)

	// 事务内前置检查
	buyerBalance, err := e.store.Balances().Get(ctx, buyOrder.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer balance: %w", err)
	}
	if buyerBalance == nil {
		buyerBalance = NewAccountBalance(buyOrder.AccountID, now)
	}
	if buyerBalance.Balance.LessThan(total) {
		return nil, NewInsufficientFundsError(buyOrder.AccountID, incoming.ID, candidate.ID, total, buyerBalance.Balance)
	}
	sellerHolding, err := e.store.Holdings().Get(ctx, sellOrder.AccountID, incoming.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load seller holding: %w", err)
	}
	var owned int64
	if sellerHolding != nil {
		owned = sellerHolding.SharesOwned
	}
	if owned < quantity {
		return nil, NewInsufficientSharesError(sellOrder.AccountID, incoming.Symbol, incoming.ID, candidate.ID, quantity, owned)
	}

	trade := &Trade{
		ID:              e.newID(),
		Symbol:          incoming.Symbol,
		BuyOrderID:      buyOrder.ID,
		SellOrderID:     sellOrder.ID,
		BuyerAccountID:  buyOrder.AccountID,
		SellerAccountID: sellOrder.AccountID,
		Quantity:        quantity,
		Price:           price,
		TotalAmount:     total,
		PlatformFee:     e.fees.Fee(total),
		ExecutedAt:      now,
	}
	if err := e.store.Trades().Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to save trade: %w", err)
	}

	// 资金
	if err := buyerBalance.Debit(total, now); err != nil {
		return nil, err
	}
	if err := e.store.Balances().Save(ctx, buyerBalance); err != nil {
		return nil, fmt.Errorf("failed to save buyer balance: %w", err)
	}
	sellerBalance, err := e.store.Balances().Get(ctx, sellOrder.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load seller balance: %w", err)
	}
	if sellerBalance == nil {
		sellerBalance = NewAccountBalance(sellOrder.AccountID, now)
	}
	sellerBalance.Credit(trade.SellerProceeds(), now)
	if err := e.store.Balances().Save(ctx, sellerBalance); err != nil {
		return nil, fmt.Errorf("failed to save seller balance: %w", err)
	}

	// 持仓
	if err := sellerHolding.Sell(quantity, now); err != nil {
		return nil, err
	}
	if err := e.store.Holdings().Save(ctx, sellerHolding); err != nil {
		return nil, fmt.Errorf("failed to save seller holding: %w", err)
	}
	buyerHolding, err := e.store.Holdings().Get(ctx, buyOrder.AccountID, incoming.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer holding: %w", err)
	}
	if buyerHolding == nil {
		buyerHolding = NewHolding(buyOrder.AccountID, incoming.Symbol, now)
	}
	buyerHolding.Buy(quantity, price, now)
	if err := e.store.Holdings().Save(ctx, buyerHolding); err != nil {
		return nil, fmt.Errorf("failed to save buyer holding: %w", err)
	}

	// 订单成交进度
	for _, o := range []*Order{candidate, incoming} {
		if err := o.ApplyFill(quantity, now); err != nil {
			return nil, err
		}
		if err := e.store.Orders().Update(ctx, o); err != nil {
			return nil, fmt.Errorf("failed to update order %s: %w", o.ID, err)
		}
	}

	if err := e.store.Prices().Append(ctx, &PricePoint{
		Symbol:    incoming.Symbol,
		Price:     price,
		Volume:    quantity,
		Timestamp: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to append price point: %w", err)
	}
	return trade, nil
}
