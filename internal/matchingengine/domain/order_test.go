package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func px(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func newLimit(id, account string, side OrderSide, qty int64, price string, at time.Time) *Order {
	return NewOrder(id, account, "ACME", TypeLimit, side, qty, px(price), nil, at)
}

func TestOrder_ApplyFillTransitions(t *testing.T) {
	o := newLimit("o1", "alice", SideBuy, 100, "10", t0)
	assert.True(t, o.IsOpen())

	require.NoError(t, o.ApplyFill(40, t0))
	assert.Equal(t, StatusPartial, o.Status)
	assert.Equal(t, int64(60), o.RemainingQuantity)

	require.NoError(t, o.ApplyFill(60, t0))
	assert.Equal(t, StatusFilled, o.Status)
	assert.False(t, o.IsOpen())
	assert.True(t, o.QuantityConsistent())

	assert.ErrorIs(t, o.ApplyFill(1, t0), ErrIllegalTransition)
}

func TestOrder_ApplyFillRejectsBadQuantity(t *testing.T) {
	o := newLimit("o1", "alice", SideBuy, 10, "10", t0)
	assert.ErrorIs(t, o.ApplyFill(0, t0), ErrIllegalTransition)
	assert.ErrorIs(t, o.ApplyFill(11, t0), ErrIllegalTransition)
	assert.Equal(t, StatusPending, o.Status)
}

func TestOrder_Cancel(t *testing.T) {
	o := newLimit("o1", "alice", SideSell, 10, "10", t0)
	require.NoError(t, o.ApplyFill(3, t0))

	var me *MatchError
	err := o.Cancel("mallory", t0)
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrUnauthorized, me.Code)

	require.NoError(t, o.Cancel("alice", t0.Add(time.Second)))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, CancelReasonUser, o.CancelReason)
	assert.Equal(t, int64(7), o.CancelledQuantity)
	assert.Equal(t, int64(0), o.RemainingQuantity)
	assert.True(t, o.QuantityConsistent())
	assert.True(t, o.UpdatedAt.Equal(t0.Add(time.Second)))

	assert.ErrorIs(t, o.Cancel("alice", t0), ErrOrderAlreadyCancelled)
}

func TestOrder_CancelFilled(t *testing.T) {
	o := newLimit("o1", "alice", SideSell, 10, "10", t0)
	require.NoError(t, o.ApplyFill(10, t0))
	assert.ErrorIs(t, o.Cancel("alice", t0), ErrOrderAlreadyFilled)
	assert.ErrorIs(t, o.Reject(CancelReasonInsufficientFunds, t0), ErrOrderAlreadyFilled)
}

func TestOrder_Expire(t *testing.T) {
	exp := t0.Add(time.Minute)
	o := NewOrder("o1", "alice", "ACME", TypeLimit, SideBuy, 10, px("10"), &exp, t0)

	assert.False(t, o.IsExpired(t0))
	assert.ErrorIs(t, o.Expire(t0), ErrIllegalTransition)

	assert.True(t, o.IsExpired(exp))
	require.NoError(t, o.Expire(exp))
	assert.Equal(t, CancelReasonExpired, o.CancelReason)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusFilled))
	assert.True(t, CanTransition(StatusPartial, StatusCancelled))
	assert.False(t, CanTransition(StatusFilled, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.False(t, CanTransition(StatusPartial, StatusPending))
}

func TestOrder_CloneIsDeep(t *testing.T) {
	exp := t0.Add(time.Minute)
	o := NewOrder("o1", "alice", "ACME", TypeLimit, SideBuy, 10, px("10"), &exp, t0)
	c := o.Clone()
	*c.ExpiresAt = t0
	assert.True(t, o.ExpiresAt.Equal(exp))
}

func TestParseEnums(t *testing.T) {
	side, ok := ParseOrderSide(" Sell ")
	assert.True(t, ok)
	assert.Equal(t, SideSell, side)
	assert.Equal(t, SideBuy, side.Opposite())

	_, ok = ParseOrderType("stop")
	assert.False(t, ok)
}

func TestOrderRequest_Validate(t *testing.T) {
	future := t0.Add(time.Hour)
	past := t0.Add(-time.Hour)

	cases := []struct {
		name string
		req  OrderRequest
		want ErrorCode
	}{
		{"ok limit", OrderRequest{Side: "buy", Type: "limit", Quantity: 1, LimitPrice: px("1.5"), ExpiresAt: &future}, ""},
		{"ok market", OrderRequest{Side: "sell", Type: "market", Quantity: 1}, ""},
		{"bad type", OrderRequest{Side: "buy", Type: "iceberg", Quantity: 1}, ErrInvalidOrderType},
		{"bad side", OrderRequest{Side: "short", Type: "market", Quantity: 1}, ErrInvalidOrderType},
		{"zero qty", OrderRequest{Side: "buy", Type: "market", Quantity: 0}, ErrInvalidQuantity},
		{"negative qty", OrderRequest{Side: "buy", Type: "market", Quantity: -5}, ErrInvalidQuantity},
		{"market with price", OrderRequest{Side: "buy", Type: "market", Quantity: 1, LimitPrice: px("1")}, ErrInvalidPrice},
		{"limit no price", OrderRequest{Side: "buy", Type: "limit", Quantity: 1}, ErrInvalidPrice},
		{"limit zero price", OrderRequest{Side: "buy", Type: "limit", Quantity: 1, LimitPrice: px("0")}, ErrInvalidPrice},
		{"too precise", OrderRequest{Side: "buy", Type: "limit", Quantity: 1, LimitPrice: px("1.000000001")}, ErrInvalidPrice},
		{"expiry in past", OrderRequest{Side: "buy", Type: "limit", Quantity: 1, LimitPrice: px("1"), ExpiresAt: &past}, ErrInvalidExpiry},
		{"expiry on market", OrderRequest{Side: "buy", Type: "market", Quantity: 1, ExpiresAt: &future}, ErrInvalidExpiry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := tc.req.Validate(t0)
			if tc.want == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.req.Quantity, v.Quantity)
				return
			}
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestMatchError(t *testing.T) {
	cause := errors.New("deadlock")
	err := NewTransientConflictError(cause)
	assert.ErrorIs(t, err, ErrTransientConflict)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsTransient(err))
	assert.False(t, IsValidation(err))

	funds := NewInsufficientFundsError("alice", "o1", "o2", decimal.NewFromInt(150), decimal.NewFromInt(100))
	assert.True(t, funds.Shortfall().Equal(decimal.NewFromInt(50)))
	assert.Equal(t, ErrInsufficientFunds, CodeOf(funds))
	assert.Contains(t, funds.Error(), "INSUFFICIENT_FUNDS")

	assert.Equal(t, ErrorCode(""), CodeOf(cause))
}
