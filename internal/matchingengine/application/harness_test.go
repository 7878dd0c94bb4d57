package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/lock"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/persistence/memory"
	"github.com/wyfcoding/sharematching/pkg/logger"
	"github.com/wyfcoding/sharematching/pkg/metrics"
)

const symbol = "ACME"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.MatchingEvent
	onSend func(domain.MatchingEvent)
}

func (s *recordingSink) Publish(_ context.Context, e domain.MatchingEvent) error {
	if s.onSend != nil {
		s.onSend(e)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) ofType(eventType string) []domain.MatchingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MatchingEvent
	for _, e := range s.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeBookCache struct {
	mu          sync.Mutex
	snapshots   map[string]*domain.OrderBookSnapshot
	invalidated []string
}

func newFakeBookCache() *fakeBookCache {
	return &fakeBookCache{snapshots: make(map[string]*domain.OrderBookSnapshot)}
}

func (c *fakeBookCache) Save(_ context.Context, s *domain.OrderBookSnapshot, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[s.Symbol] = s
	return nil
}

func (c *fakeBookCache) Get(_ context.Context, symbol string, _ int) (*domain.OrderBookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots[symbol], nil
}

func (c *fakeBookCache) Invalidate(_ context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, symbol)
	c.invalidated = append(c.invalidated, symbol)
	return nil
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	clock *fakeClock
	sink  *recordingSink
	cache *fakeBookCache
	cmd   *MatchingCommandService
	query *MatchingQueryService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLocker(t, lock.NewLocalLocker())
}

func newHarnessWithLocker(t *testing.T, locker domain.SymbolLocker) *harness {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
	sink := &recordingSink{}
	cache := newFakeBookCache()
	log := logger.Discard()
	m := metrics.New("matchingengine_test")

	opts := DefaultOptions()
	opts.InitialInterval = time.Millisecond
	opts.MaxInterval = 2 * time.Millisecond

	cmd := NewMatchingCommandService(store, locker, NewNotifier(log, m, sink), cache, m, log, opts)
	cmd.SetClock(clock.Now)
	query := NewMatchingQueryService(store, cache, log, 10)
	query.SetClock(clock.Now)

	h := &harness{t: t, ctx: context.Background(), store: store, clock: clock, sink: sink, cache: cache, cmd: cmd, query: query}
	_, err := cmd.UpsertListing(h.ctx, UpsertListingCommand{Symbol: symbol, Name: "Acme Corp", Tradeable: true})
	require.NoError(t, err)
	return h
}

func (h *harness) deposit(account string, amount string) {
	h.t.Helper()
	_, err := h.cmd.Deposit(h.ctx, DepositCommand{AccountID: account, Amount: decimal.RequireFromString(amount)})
	require.NoError(h.t, err)
}

func (h *harness) seed(account string, shares int64) {
	h.t.Helper()
	_, err := h.cmd.SeedHolding(h.ctx, SeedHoldingCommand{AccountID: account, Symbol: symbol, Shares: shares, Price: decimal.NewFromInt(1)})
	require.NoError(h.t, err)
}

func (h *harness) place(account, side, typ string, qty int64, limit string) (*PlaceOrderResult, error) {
	h.t.Helper()
	cmd := PlaceOrderCommand{
		AccountID: account,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  qty,
		Tradeable: true,
	}
	if limit != "" {
		cmd.LimitPrice = decimal.NewNullDecimal(decimal.RequireFromString(limit))
	}
	return h.cmd.PlaceOrder(h.ctx, cmd)
}

func (h *harness) mustPlace(account, side, typ string, qty int64, limit string) *PlaceOrderResult {
	h.t.Helper()
	res, err := h.place(account, side, typ, qty, limit)
	require.NoError(h.t, err)
	return res
}

func (h *harness) order(id string) *domain.Order {
	h.t.Helper()
	o, err := h.store.Orders().Get(h.ctx, id)
	require.NoError(h.t, err)
	return o
}

func (h *harness) balance(account string) decimal.Decimal {
	h.t.Helper()
	b, err := h.query.GetBalance(h.ctx, account)
	require.NoError(h.t, err)
	return b.Balance
}

func (h *harness) shares(account string) int64 {
	h.t.Helper()
	hd, err := h.query.GetHolding(h.ctx, account, symbol)
	require.NoError(h.t, err)
	return hd.SharesOwned
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
