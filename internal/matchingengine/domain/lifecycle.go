package domain

import (
	"errors"
	"fmt"
	"time"
)

// 撤单原因
const (
	CancelReasonUser               = "user"
	CancelReasonExpired            = "expired"
	CancelReasonInsufficientFunds  = "insufficient_funds"
	CancelReasonInsufficientShares = "insufficient_shares"
)

// ErrIllegalTransition 非法状态迁移（内部错误，不对外暴露错误码）
var ErrIllegalTransition = errors.New("illegal order state transition")

// 状态机：pending → {partial, filled, cancelled}，partial → {partial, filled, cancelled}，filled/cancelled 为终态
var transitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {StatusPartial: true, StatusFilled: true, StatusCancelled: true},
	StatusPartial: {StatusPartial: true, StatusFilled: true, StatusCancelled: true},
}

// CanTransition 状态迁移是否合法
func CanTransition(from, to OrderStatus) bool {
	return transitions[from][to]
}

func (o *Order) transition(to OrderStatus, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: order %s %s -> %s", ErrIllegalTransition, o.ID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// ApplyFill 记录一次成交，只允许成交执行器调用
func (o *Order) ApplyFill(quantity int64, now time.Time) error {
	if quantity <= 0 || quantity > o.RemainingQuantity {
		return fmt.Errorf("%w: order %s fill %d exceeds remaining %d", ErrIllegalTransition, o.ID, quantity, o.RemainingQuantity)
	}
	next := StatusPartial
	if o.RemainingQuantity == quantity {
		next = StatusFilled
	}
	if err := o.transition(next, now); err != nil {
		return err
	}
	o.FilledQuantity += quantity
	o.RemainingQuantity -= quantity
	return nil
}

// Cancel 用户撤单：仅限所有者，仅限 pending/partial
func (o *Order) Cancel(requesterID string, now time.Time) error {
	if o.AccountID != requesterID {
		return NewUnauthorizedError(o.ID, requesterID)
	}
	return o.cancel(CancelReasonUser, now)
}

// Expire 过期视为隐式撤单，遵循同样的终态规则
func (o *Order) Expire(now time.Time) error {
	if !o.IsExpired(now) {
		return fmt.Errorf("%w: order %s not expired", ErrIllegalTransition, o.ID)
	}
	return o.cancel(CancelReasonExpired, now)
}

// Reject 资金/持仓不足导致的系统撤单：本方首次撮合即失败，或挂单方在成交时已无力交割
func (o *Order) Reject(reason string, now time.Time) error {
	return o.cancel(reason, now)
}

func (o *Order) cancel(reason string, now time.Time) error {
	switch o.Status {
	case StatusFilled:
		return NewOrderAlreadyFilledError(o.ID)
	case StatusCancelled:
		return NewOrderAlreadyCancelledError(o.ID)
	}
	if err := o.transition(StatusCancelled, now); err != nil {
		return err
	}
	o.CancelledQuantity = o.RemainingQuantity
	o.RemainingQuantity = 0
	o.CancelReason = reason
	return nil
}
