package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 限价最多 8 位小数，与存储精度一致
const maxPriceScale = 8

// OrderRequest 下单参数（尚未校验）
type OrderRequest struct {
	AccountID  string
	Symbol     string
	Side       string
	Type       string
	Quantity   int64
	LimitPrice decimal.NullDecimal
	ExpiresAt  *time.Time
}

// ValidatedOrder 校验后的下单参数
type ValidatedOrder struct {
	Side       OrderSide
	Type       OrderType
	Quantity   int64
	LimitPrice decimal.NullDecimal
	ExpiresAt  *time.Time
}

// Validate 输入校验，不访问存储
func (r OrderRequest) Validate(now time.Time) (ValidatedOrder, error) {
	typ, ok := ParseOrderType(r.Type)
	if !ok {
		return ValidatedOrder{}, NewInvalidOrderTypeError(r.Type)
	}
	side, ok := ParseOrderSide(r.Side)
	if !ok {
		return ValidatedOrder{}, NewInvalidOrderTypeError(r.Side)
	}
	if r.Quantity <= 0 {
		return ValidatedOrder{}, NewInvalidQuantityError(r.Quantity)
	}
	if err := ValidateLimitPrice(typ, r.LimitPrice); err != nil {
		return ValidatedOrder{}, err
	}
	if r.ExpiresAt != nil {
		if typ != TypeLimit {
			return ValidatedOrder{}, NewInvalidExpiryError("expiry is only supported for limit orders")
		}
		if !r.ExpiresAt.After(now) {
			return ValidatedOrder{}, NewInvalidExpiryError("expiry must be in the future")
		}
	}
	return ValidatedOrder{
		Side:       side,
		Type:       typ,
		Quantity:   r.Quantity,
		LimitPrice: r.LimitPrice,
		ExpiresAt:  r.ExpiresAt,
	}, nil
}

// ValidateLimitPrice 限价单必须带正价格，市价单不得带价格
func ValidateLimitPrice(typ OrderType, price decimal.NullDecimal) error {
	switch typ {
	case TypeMarket:
		if price.Valid {
			return NewInvalidPriceError("market orders must not carry a limit price")
		}
	case TypeLimit:
		if !price.Valid {
			return NewInvalidPriceError("limit orders require a limit price")
		}
		if !price.Decimal.IsPositive() {
			return NewInvalidPriceError("limit price must be positive")
		}
		if price.Decimal.Exponent() < -maxPriceScale && !price.Decimal.Equal(price.Decimal.Round(maxPriceScale)) {
			return NewInvalidPriceError("limit price has too many decimal places")
		}
	}
	return nil
}
