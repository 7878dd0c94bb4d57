package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

// OrderModel 订单表映射；自增主键作为同一时间戳下的 FIFO 序号
type OrderModel struct {
	ID                uint                `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID           string              `gorm:"column:order_id;type:varchar(36);uniqueIndex;not null;comment:订单ID"`
	AccountID         string              `gorm:"column:account_id;type:varchar(64);index;not null;comment:账户"`
	Symbol            string              `gorm:"column:symbol;type:varchar(20);index:idx_book,priority:1;not null;comment:标的"`
	Side              string              `gorm:"column:side;type:varchar(8);index:idx_book,priority:2;not null;comment:方向"`
	Status            string              `gorm:"column:status;type:varchar(16);index:idx_book,priority:3;not null;comment:状态"`
	Type              string              `gorm:"column:type;type:varchar(8);not null;comment:类型"`
	Quantity          int64               `gorm:"column:quantity;not null;comment:委托数量"`
	LimitPrice        decimal.NullDecimal `gorm:"column:limit_price;type:decimal(20,8);comment:限价"`
	FilledQuantity    int64               `gorm:"column:filled_quantity;not null;default:0"`
	RemainingQuantity int64               `gorm:"column:remaining_quantity;not null"`
	CancelledQuantity int64               `gorm:"column:cancelled_quantity;not null;default:0"`
	CancelReason      string              `gorm:"column:cancel_reason;type:varchar(32)"`
	ExpiresAt         *time.Time          `gorm:"column:expires_at;index"`
	CreatedAt         time.Time           `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;not null"`
}

func (OrderModel) TableName() string { return "matching_orders" }

// TradeModel 成交表映射
type TradeModel struct {
	ID              uint            `gorm:"column:id;primaryKey;autoIncrement"`
	TradeID         string          `gorm:"column:trade_id;type:varchar(36);uniqueIndex;not null;comment:成交ID"`
	Symbol          string          `gorm:"column:symbol;type:varchar(20);index;not null"`
	BuyOrderID      string          `gorm:"column:buy_order_id;type:varchar(36);index;not null"`
	SellOrderID     string          `gorm:"column:sell_order_id;type:varchar(36);index;not null"`
	BuyerAccountID  string          `gorm:"column:buyer_account_id;type:varchar(64);not null"`
	SellerAccountID string          `gorm:"column:seller_account_id;type:varchar(64);not null"`
	Quantity        int64           `gorm:"column:quantity;not null"`
	Price           decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null"`
	TotalAmount     decimal.Decimal `gorm:"column:total_amount;type:decimal(24,8);not null"`
	PlatformFee     decimal.Decimal `gorm:"column:platform_fee;type:decimal(24,8);not null"`
	ExecutedAt      time.Time       `gorm:"column:executed_at;index;not null"`
}

func (TradeModel) TableName() string { return "matching_trades" }

// HoldingModel 持仓表映射
type HoldingModel struct {
	AccountID       string          `gorm:"column:account_id;type:varchar(64);primaryKey"`
	Symbol          string          `gorm:"column:symbol;type:varchar(20);primaryKey"`
	SharesOwned     int64           `gorm:"column:shares_owned;not null"`
	AverageBuyPrice decimal.Decimal `gorm:"column:average_buy_price;type:decimal(20,8);not null"`
	TotalInvested   decimal.Decimal `gorm:"column:total_invested;type:decimal(24,8);not null"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;not null"`
}

func (HoldingModel) TableName() string { return "matching_holdings" }

// BalanceModel 资金表映射
type BalanceModel struct {
	AccountID string          `gorm:"column:account_id;type:varchar(64);primaryKey"`
	Balance   decimal.Decimal `gorm:"column:balance;type:decimal(24,8);not null"`
	Version   int64           `gorm:"column:version;not null;default:0"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null"`
}

func (BalanceModel) TableName() string { return "matching_balances" }

// PricePointModel 价格 tick 表映射
type PricePointModel struct {
	ID        uint            `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol    string          `gorm:"column:symbol;type:varchar(20);index:idx_symbol_ts,priority:1;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null"`
	Volume    int64           `gorm:"column:volume;not null"`
	Timestamp time.Time       `gorm:"column:timestamp;index:idx_symbol_ts,priority:2;not null"`
}

func (PricePointModel) TableName() string { return "matching_price_points" }

// ListingModel 上市标的表映射
type ListingModel struct {
	Symbol    string    `gorm:"column:symbol;type:varchar(20);primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(128);not null"`
	Tradeable bool      `gorm:"column:tradeable;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (ListingModel) TableName() string { return "matching_listings" }

// mapping helpers

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toOrderModel(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:                uint(o.Seq),
		OrderID:           o.ID,
		AccountID:         o.AccountID,
		Symbol:            o.Symbol,
		Side:              string(o.Side),
		Status:            string(o.Status),
		Type:              string(o.Type),
		Quantity:          o.Quantity,
		LimitPrice:        o.LimitPrice,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		CancelledQuantity: o.CancelledQuantity,
		CancelReason:      o.CancelReason,
		ExpiresAt:         utcPtr(o.ExpiresAt),
		CreatedAt:         utc(o.CreatedAt),
		UpdatedAt:         utc(o.UpdatedAt),
	}
}

func toOrder(m *OrderModel) *domain.Order {
	return &domain.Order{
		ID:                m.OrderID,
		AccountID:         m.AccountID,
		Symbol:            m.Symbol,
		Type:              domain.OrderType(m.Type),
		Side:              domain.OrderSide(m.Side),
		Quantity:          m.Quantity,
		LimitPrice:        m.LimitPrice,
		FilledQuantity:    m.FilledQuantity,
		RemainingQuantity: m.RemainingQuantity,
		CancelledQuantity: m.CancelledQuantity,
		Status:            domain.OrderStatus(m.Status),
		CancelReason:      m.CancelReason,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		ExpiresAt:         m.ExpiresAt,
		Seq:               int64(m.ID),
	}
}

func toTradeModel(t *domain.Trade) *TradeModel {
	return &TradeModel{
		TradeID:         t.ID,
		Symbol:          t.Symbol,
		BuyOrderID:      t.BuyOrderID,
		SellOrderID:     t.SellOrderID,
		BuyerAccountID:  t.BuyerAccountID,
		SellerAccountID: t.SellerAccountID,
		Quantity:        t.Quantity,
		Price:           t.Price,
		TotalAmount:     t.TotalAmount,
		PlatformFee:     t.PlatformFee,
		ExecutedAt:      utc(t.ExecutedAt),
	}
}

func toTrade(m *TradeModel) *domain.Trade {
	return &domain.Trade{
		ID:              m.TradeID,
		Symbol:          m.Symbol,
		BuyOrderID:      m.BuyOrderID,
		SellOrderID:     m.SellOrderID,
		BuyerAccountID:  m.BuyerAccountID,
		SellerAccountID: m.SellerAccountID,
		Quantity:        m.Quantity,
		Price:           m.Price,
		TotalAmount:     m.TotalAmount,
		PlatformFee:     m.PlatformFee,
		ExecutedAt:      m.ExecutedAt,
	}
}

func toHoldingModel(h *domain.Holding) *HoldingModel {
	return &HoldingModel{
		AccountID:       h.AccountID,
		Symbol:          h.Symbol,
		SharesOwned:     h.SharesOwned,
		AverageBuyPrice: h.AverageBuyPrice,
		TotalInvested:   h.TotalInvested,
		UpdatedAt:       utc(h.UpdatedAt),
	}
}

func toHolding(m *HoldingModel) *domain.Holding {
	return &domain.Holding{
		AccountID:       m.AccountID,
		Symbol:          m.Symbol,
		SharesOwned:     m.SharesOwned,
		AverageBuyPrice: m.AverageBuyPrice,
		TotalInvested:   m.TotalInvested,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toPricePoint(m *PricePointModel) *domain.PricePoint {
	return &domain.PricePoint{
		Symbol:    m.Symbol,
		Price:     m.Price,
		Volume:    m.Volume,
		Timestamp: m.Timestamp,
	}
}
