package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrorCode 撮合错误码，同时可作为 errors.Is 的比较目标
type ErrorCode string

func (c ErrorCode) Error() string { return string(c) }

// 错误分类（封闭集合）
const (
	// 输入校验，不触达存储
	ErrInvalidOrderType ErrorCode = "INVALID_ORDER_TYPE"
	ErrInvalidQuantity  ErrorCode = "INVALID_QUANTITY"
	ErrInvalidPrice     ErrorCode = "INVALID_PRICE"
	ErrInvalidExpiry    ErrorCode = "INVALID_EXPIRY"
	ErrInvalidAmount    ErrorCode = "INVALID_AMOUNT"

	// 标的校验，撮合前拒绝
	ErrSymbolNotTradeable ErrorCode = "SYMBOL_NOT_TRADEABLE"
	ErrSymbolNotFound     ErrorCode = "SYMBOL_NOT_FOUND"

	// 成交执行器事务内检测
	ErrInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	ErrInsufficientShares ErrorCode = "INSUFFICIENT_SHARES"

	// 撤单路径
	ErrOrderNotFound         ErrorCode = "ORDER_NOT_FOUND"
	ErrUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrOrderAlreadyFilled    ErrorCode = "ORDER_ALREADY_FILLED"
	ErrOrderAlreadyCancelled ErrorCode = "ORDER_ALREADY_CANCELLED"

	// 存储序列化冲突，可重试
	ErrTransientConflict ErrorCode = "TRANSIENT_CONFLICT"
)

// MatchError 带结构化上下文的撮合错误
type MatchError struct {
	Code    ErrorCode
	Message string

	OrderID     string
	CandidateID string
	AccountID   string
	Symbol      string

	// 资金不足时的需求/可用金额
	Required  decimal.Decimal
	Available decimal.Decimal
	// 持仓不足时的需求/可用股数
	RequiredShares  int64
	AvailableShares int64

	Cause error
}

func (e *MatchError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.OrderID != "" {
		fmt.Fprintf(&b, " order=%s", e.OrderID)
	}
	if e.CandidateID != "" {
		fmt.Fprintf(&b, " candidate=%s", e.CandidateID)
	}
	switch e.Code {
	case ErrInsufficientFunds:
		fmt.Fprintf(&b, " required=%s available=%s shortfall=%s", e.Required, e.Available, e.Shortfall())
	case ErrInsufficientShares:
		fmt.Fprintf(&b, " required=%d available=%d", e.RequiredShares, e.AvailableShares)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap 同时暴露错误码与底层原因
func (e *MatchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Cause}
}

// Shortfall 资金缺口
func (e *MatchError) Shortfall() decimal.Decimal {
	if e.Code != ErrInsufficientFunds {
		return decimal.Zero
	}
	return e.Required.Sub(e.Available)
}

// CodeOf 提取错误码，非撮合错误返回空
func CodeOf(err error) ErrorCode {
	var me *MatchError
	if errors.As(err, &me) {
		return me.Code
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ""
}

// IsTransient 是否为可重试的存储冲突
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}

// IsValidation 是否为输入校验错误
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrInvalidOrderType, ErrInvalidQuantity, ErrInvalidPrice, ErrInvalidExpiry, ErrInvalidAmount:
		return true
	}
	return false
}

func NewInvalidOrderTypeError(value string) *MatchError {
	return &MatchError{Code: ErrInvalidOrderType, Message: fmt.Sprintf("unsupported order type or side %q", value)}
}

func NewInvalidQuantityError(quantity int64) *MatchError {
	return &MatchError{Code: ErrInvalidQuantity, Message: fmt.Sprintf("quantity must be positive, got %d", quantity)}
}

func NewInvalidPriceError(reason string) *MatchError {
	return &MatchError{Code: ErrInvalidPrice, Message: reason}
}

func NewInvalidExpiryError(reason string) *MatchError {
	return &MatchError{Code: ErrInvalidExpiry, Message: reason}
}

func NewInvalidAmountError(amount decimal.Decimal) *MatchError {
	return &MatchError{Code: ErrInvalidAmount, Message: fmt.Sprintf("amount must be positive, got %s", amount)}
}

func NewSymbolNotTradeableError(symbol string) *MatchError {
	return &MatchError{Code: ErrSymbolNotTradeable, Symbol: symbol, Message: fmt.Sprintf("symbol %s is not open for trading", symbol)}
}

func NewSymbolNotFoundError(symbol string) *MatchError {
	return &MatchError{Code: ErrSymbolNotFound, Symbol: symbol, Message: fmt.Sprintf("symbol %s not found", symbol)}
}

func NewInsufficientFundsError(accountID, orderID, candidateID string, required, available decimal.Decimal) *MatchError {
	return &MatchError{
		Code:        ErrInsufficientFunds,
		AccountID:   accountID,
		OrderID:     orderID,
		CandidateID: candidateID,
		Required:    required,
		Available:   available,
	}
}

func NewInsufficientSharesError(accountID, symbol, orderID, candidateID string, required, available int64) *MatchError {
	return &MatchError{
		Code:            ErrInsufficientShares,
		AccountID:       accountID,
		Symbol:          symbol,
		OrderID:         orderID,
		CandidateID:     candidateID,
		RequiredShares:  required,
		AvailableShares: available,
	}
}

func NewOrderNotFoundError(orderID string) *MatchError {
	return &MatchError{Code: ErrOrderNotFound, OrderID: orderID}
}

func NewUnauthorizedError(orderID, accountID string) *MatchError {
	return &MatchError{Code: ErrUnauthorized, OrderID: orderID, AccountID: accountID, Message: "order belongs to another account"}
}

func NewOrderAlreadyFilledError(orderID string) *MatchError {
	return &MatchError{Code: ErrOrderAlreadyFilled, OrderID: orderID}
}

func NewOrderAlreadyCancelledError(orderID string) *MatchError {
	return &MatchError{Code: ErrOrderAlreadyCancelled, OrderID: orderID}
}

func NewTransientConflictError(cause error) *MatchError {
	return &MatchError{Code: ErrTransientConflict, Message: "storage serialization conflict, retry later", Cause: cause}
}

// NewSymbolBusyError 等待标的锁超时，归入可重试的 TransientConflict
func NewSymbolBusyError(symbol string, cause error) *MatchError {
	return &MatchError{Code: ErrTransientConflict, Message: "symbol is busy, retry later", Symbol: symbol, Cause: cause}
}
