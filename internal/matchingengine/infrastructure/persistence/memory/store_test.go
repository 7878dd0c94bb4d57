package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func TestBalanceSaveChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	b := domain.NewAccountBalance("alice", t0)
	b.Credit(decimal.NewFromInt(100), t0)
	require.NoError(t, s.Balances().Save(ctx, b))

	stale, err := s.Balances().Get(ctx, "alice")
	require.NoError(t, err)

	b.Credit(decimal.NewFromInt(5), t0)
	require.NoError(t, s.Balances().Save(ctx, b))

	stale.Credit(decimal.NewFromInt(1), t0)
	assert.ErrorIs(t, s.Balances().Save(ctx, stale), domain.ErrTransientConflict)

	got, err := s.Balances().Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, int64(2), got.Version)
}

func TestBalanceSaveInsideTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.WithSerializableTx(ctx, func(txCtx context.Context) error {
		b := domain.NewAccountBalance("bob", t0)
		b.Credit(decimal.NewFromInt(10), t0)
		if err := s.Balances().Save(txCtx, b); err != nil {
			return err
		}
		b.Credit(decimal.NewFromInt(10), t0)
		return s.Balances().Save(txCtx, b)
	})
	require.NoError(t, err)

	got, err := s.Balances().Get(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(20)))
}
