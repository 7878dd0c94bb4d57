package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/persistence/memory"
)

var now = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func setup(t *testing.T, cash string, shares int64) (*memory.Store, *domain.TradeExecutor) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	b := domain.NewAccountBalance("alice", now)
	b.Credit(decimal.RequireFromString(cash), now)
	require.NoError(t, store.Balances().Save(ctx, b))
	if shares > 0 {
		h := domain.NewHolding("bob", "ACME", now)
		h.Buy(shares, decimal.NewFromInt(5), now)
		require.NoError(t, store.Holdings().Save(ctx, h))
	}
	exec := domain.NewTradeExecutor(store, domain.NewFeeSchedule(domain.DefaultFeeRate), uuid.NewString, func() time.Time { return now })
	return store, exec
}

func orders(t *testing.T, store *memory.Store, buyQty, sellQty int64) (*domain.Order, *domain.Order) {
	t.Helper()
	ctx := context.Background()
	sell := domain.NewOrder("sell-1", "bob", "ACME", domain.TypeLimit, domain.SideSell, sellQty, decimal.NewNullDecimal(decimal.NewFromInt(10)), nil, now)
	buy := domain.NewOrder("buy-1", "alice", "ACME", domain.TypeMarket, domain.SideBuy, buyQty, decimal.NullDecimal{}, nil, now.Add(time.Second))
	require.NoError(t, store.Orders().Create(ctx, sell))
	require.NoError(t, store.Orders().Create(ctx, buy))
	return buy, sell
}

func TestTradeExecutor_Execute(t *testing.T) {
	ctx := context.Background()
	store, exec := setup(t, "1000", 50)
	buy, sell := orders(t, store, 20, 50)

	var trade *domain.Trade
	err := store.WithSerializableTx(ctx, func(txCtx context.Context) error {
		var err error
		trade, err = exec.Execute(txCtx, buy, sell, 20, decimal.NewFromInt(10))
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "buy-1", trade.BuyOrderID)
	assert.Equal(t, "sell-1", trade.SellOrderID)
	assert.True(t, trade.TotalAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, trade.PlatformFee.Equal(decimal.NewFromInt(2)))

	alice, _ := store.Balances().Get(ctx, "alice")
	bob, _ := store.Balances().Get(ctx, "bob")
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(800)))
	assert.True(t, bob.Balance.Equal(decimal.NewFromInt(198)))

	bobShares, _ := store.Holdings().Get(ctx, "bob", "ACME")
	aliceShares, _ := store.Holdings().Get(ctx, "alice", "ACME")
	assert.Equal(t, int64(30), bobShares.SharesOwned)
	assert.Equal(t, int64(20), aliceShares.SharesOwned)

	latest, _ := store.Prices().Latest(ctx, "ACME")
	require.NotNil(t, latest)
	assert.Equal(t, int64(20), latest.Volume)

	gotBuy, _ := store.Orders().Get(ctx, "buy-1")
	gotSell, _ := store.Orders().Get(ctx, "sell-1")
	assert.Equal(t, domain.StatusFilled, gotBuy.Status)
	assert.Equal(t, domain.StatusPartial, gotSell.Status)
}

func TestTradeExecutor_InsufficientFundsRollsBack(t *testing.T) {
	ctx := context.Background()
	store, exec := setup(t, "100", 50)
	buy, sell := orders(t, store, 20, 50)

	err := store.WithSerializableTx(ctx, func(txCtx context.Context) error {
		_, err := exec.Execute(txCtx, buy, sell, 20, decimal.NewFromInt(10))
		return err
	})
	var me *domain.MatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, domain.ErrInsufficientFunds, me.Code)
	assert.Equal(t, "alice", me.AccountID)
	assert.Equal(t, "sell-1", me.CandidateID)

	assert.Empty(t, store.AllTrades())
	alice, _ := store.Balances().Get(ctx, "alice")
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(100)))
}

func TestTradeExecutor_InsufficientShares(t *testing.T) {
	ctx := context.Background()
	store, exec := setup(t, "1000", 5)
	buy, sell := orders(t, store, 20, 50)

	err := store.WithSerializableTx(ctx, func(txCtx context.Context) error {
		_, err := exec.Execute(txCtx, buy, sell, 20, decimal.NewFromInt(10))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
	assert.Empty(t, store.AllTrades())
}

func TestTradeExecutor_StaleCandidate(t *testing.T) {
	ctx := context.Background()
	store, exec := setup(t, "1000", 50)
	buy, sell := orders(t, store, 20, 50)
	require.NoError(t, sell.Cancel("bob", now))

	err := store.WithSerializableTx(ctx, func(txCtx context.Context) error {
		_, err := exec.Execute(txCtx, buy, sell, 20, decimal.NewFromInt(10))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrStaleCandidate)

	self := domain.NewOrder("self", "alice", "ACME", domain.TypeLimit, domain.SideSell, 5, decimal.NewNullDecimal(decimal.NewFromInt(10)), nil, now)
	err = store.WithSerializableTx(ctx, func(txCtx context.Context) error {
		_, err := exec.Execute(txCtx, buy, self, 5, decimal.NewFromInt(10))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrStaleCandidate)
}
