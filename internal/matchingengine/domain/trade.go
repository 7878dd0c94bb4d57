package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade 成交记录，一买一卖，创建后不可变
type Trade struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	BuyOrderID      string          `json:"buy_order_id"`
	SellOrderID     string          `json:"sell_order_id"`
	BuyerAccountID  string          `json:"buyer_account_id"`
	SellerAccountID string          `json:"seller_account_id"`
	Quantity        int64           `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	// TotalAmount = Quantity × Price
	TotalAmount decimal.Decimal `json:"total_amount"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// SellerProceeds 卖方实收金额
func (t *Trade) SellerProceeds() decimal.Decimal {
	return t.TotalAmount.Sub(t.PlatformFee)
}

// PricePoint 价格 tick，每笔成交追加一条
type PricePoint struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// FeeSchedule 平台费率
type FeeSchedule struct {
	Rate decimal.Decimal
}

// DefaultFeeRate 默认 1%
var DefaultFeeRate = decimal.NewFromFloat(0.01)

// NewFeeSchedule 负费率按 0 处理
func NewFeeSchedule(rate decimal.Decimal) FeeSchedule {
	if rate.IsNegative() {
		rate = decimal.Zero
	}
	return FeeSchedule{Rate: rate}
}

// Fee 按费率计算手续费，四舍五入到分
func (f FeeSchedule) Fee(total decimal.Decimal) decimal.Decimal {
	return total.Mul(f.Rate).Round(2)
}

// Notional 成交金额
func Notional(quantity int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity))
}
