package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

func TestGetOrder_OwnerOnlyWithTrades(t *testing.T) {
	h := newHarness(t)
	h.seed("bob", 10)
	h.deposit("alice", "1000")
	h.mustPlace("bob", "sell", "limit", 10, "10.00")
	res := h.mustPlace("alice", "buy", "market", 10, "")

	detail, err := h.query.GetOrder(h.ctx, "alice", res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, detail.Order.Status)
	require.Len(t, detail.Trades, 1)
	assert.Equal(t, res.Trades[0].ID, detail.Trades[0].ID)

	_, err = h.query.GetOrder(h.ctx, "bob", res.Order.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.query.GetOrder(h.ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders_PagingAndStatus(t *testing.T) {
	h := newHarness(t)
	h.deposit("alice", "1000")
	var ids []string
	for iter_ := 0; iter_ < 5; iter_++ {
		ids = append(ids, h.mustPlace("alice", "buy", "limit", 1, "1").Order.ID)
		h.clock.Advance(time.Second)
	}
	_, err := h.cmd.CancelOrder(h.ctx, CancelOrderCommand{AccountID: "alice", OrderID: ids[0]})
	require.NoError(t, err)

	page, total, err := h.query.ListOrders(h.ctx, "alice", "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)

	page, total, err = h.query.ListOrders(h.ctx, "alice", string(domain.StatusCancelled), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, ids[0], page[0].ID)

	_, _, err = h.query.ListOrders(h.ctx, "", "", 10, 0)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPriceQueries(t *testing.T) {
	h := newHarness(t)
	h.seed("bob", 20)
	h.deposit("alice", "1000")

	current, err := h.query.GetCurrentPrice(h.ctx, symbol)
	require.NoError(t, err)
	assert.Nil(t, current)

	start := h.clock.Now()
	h.mustPlace("bob", "sell", "limit", 10, "10.00")
	h.mustPlace("bob", "sell", "limit", 10, "12.00")
	h.clock.Advance(time.Second)
	h.mustPlace("alice", "buy", "market", 10, "")
	h.clock.Advance(time.Second)
	h.mustPlace("alice", "buy", "market", 10, "")

	current, err = h.query.GetCurrentPrice(h.ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.True(t, current.Price.Equal(dec("12")))

	history, err := h.query.GetPriceHistory(h.ctx, symbol, start, 0)
	require.NoError(t, err)
	require.Len(t, history.Points, 2)
	assert.True(t, history.Points[0].Price.Equal(dec("10")))
	assert.Equal(t, int64(10), history.Points[0].Volume)

	trades, err := h.query.GetTrades(h.ctx, symbol, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(dec("12")), "newest first")
}

func TestHoldingAndBalanceDefaults(t *testing.T) {
	h := newHarness(t)

	hd, err := h.query.GetHolding(h.ctx, "nobody", symbol)
	require.NoError(t, err)
	assert.Zero(t, hd.SharesOwned)
	assert.True(t, hd.AverageBuyPrice.IsZero())

	b, err := h.query.GetBalance(h.ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, b.Balance.IsZero())
}

func TestHolding_AverageBuyPrice(t *testing.T) {
	h := newHarness(t)
	h.seed("bob", 20)
	h.deposit("alice", "1000")
	h.mustPlace("bob", "sell", "limit", 10, "10.00")
	h.mustPlace("bob", "sell", "limit", 10, "13.00")

	h.mustPlace("alice", "buy", "market", 20, "")
	hd, err := h.query.GetHolding(h.ctx, "alice", symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(20), hd.SharesOwned)
	assert.True(t, hd.AverageBuyPrice.Equal(dec("11.5")))
	assert.True(t, hd.TotalInvested.Equal(dec("230")))
}

func TestGetOrderBook_UsesCacheAndInvalidates(t *testing.T) {
	h := newHarness(t)
	h.deposit("alice", "1000")
	h.mustPlace("alice", "buy", "limit", 10, "5")

	book, err := h.query.GetOrderBook(h.ctx, symbol, 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	cached, _ := h.cache.Get(h.ctx, symbol, 10)
	require.NotNil(t, cached)

	h.mustPlace("alice", "buy", "limit", 10, "6")
	cached, _ = h.cache.Get(h.ctx, symbol, 10)
	assert.Nil(t, cached, "placement invalidates cached snapshot")

	book, err = h.query.GetOrderBook(h.ctx, symbol, 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	assert.True(t, book.Bids[0].Price.Equal(dec("6")))
}
