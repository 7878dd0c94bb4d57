package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 均价保留位数
const averagePriceScale = 8

// Holding 账户在某标的上的持仓
// 清仓后记录保留（SharesOwned 为 0），作为历史投资记录
type Holding struct {
	AccountID       string          `json:"account_id"`
	Symbol          string          `json:"symbol"`
	SharesOwned     int64           `json:"shares_owned"`
	AverageBuyPrice decimal.Decimal `json:"average_buy_price"`
	// 当前持仓的成本基础
	TotalInvested decimal.Decimal `json:"total_invested"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewHolding 空持仓
func NewHolding(accountID, symbol string, now time.Time) *Holding {
	return &Holding{
		AccountID:       accountID,
		Symbol:          symbol,
		AverageBuyPrice: decimal.Zero,
		TotalInvested:   decimal.Zero,
		UpdatedAt:       now,
	}
}

// Buy 买入，重算数量加权均价：(oldQty×oldAvg + qty×price) / (oldQty+qty)
func (h *Holding) Buy(quantity int64, price decimal.Decimal, now time.Time) {
	h.TotalInvested = h.TotalInvested.Add(Notional(quantity, price))
	h.SharesOwned += quantity
	h.AverageBuyPrice = h.TotalInvested.Div(decimal.NewFromInt(h.SharesOwned)).Round(averagePriceScale)
	h.UpdatedAt = now
}

// Sell 卖出，按比例扣减成本基础，均价不变
func (h *Holding) Sell(quantity int64, now time.Time) error {
	if quantity > h.SharesOwned {
		return NewInsufficientSharesError(h.AccountID, h.Symbol, "", "", quantity, h.SharesOwned)
	}
	if quantity == h.SharesOwned {
		h.TotalInvested = decimal.Zero
	} else {
		released := h.TotalInvested.Mul(decimal.NewFromInt(quantity)).Div(decimal.NewFromInt(h.SharesOwned)).Round(averagePriceScale)
		h.TotalInvested = h.TotalInvested.Sub(released)
	}
	h.SharesOwned -= quantity
	h.UpdatedAt = now
	return nil
}

// Clone 拷贝
func (h *Holding) Clone() *Holding {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

// AccountBalance 账户可用资金。
// Version 每次变动加一，存储层以此做乐观并发校验
type AccountBalance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewAccountBalance 零余额账户
func NewAccountBalance(accountID string, now time.Time) *AccountBalance {
	return &AccountBalance{AccountID: accountID, Balance: decimal.Zero, UpdatedAt: now}
}

// Debit 扣款，余额不可为负
func (b *AccountBalance) Debit(amount decimal.Decimal, now time.Time) error {
	if b.Balance.LessThan(amount) {
		return NewInsufficientFundsError(b.AccountID, "", "", amount, b.Balance)
	}
	b.Balance = b.Balance.Sub(amount)
	b.Version++
	b.UpdatedAt = now
	return nil
}

// Credit 入账
func (b *AccountBalance) Credit(amount decimal.Decimal, now time.Time) {
	b.Balance = b.Balance.Add(amount)
	b.Version++
	b.UpdatedAt = now
}

// Clone 拷贝
func (b *AccountBalance) Clone() *AccountBalance {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// Listing 上市标的，Tradeable 为是否开放交易
type Listing struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Tradeable bool      `json:"tradeable"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
