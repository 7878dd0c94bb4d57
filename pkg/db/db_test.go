package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type account struct {
	ID      string `gorm:"primaryKey"`
	Balance int64
}

func newSQLite(t *testing.T) *DB {
	t.Helper()
	d, err := Init(Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.AutoMigrate(&account{}))
	return d
}

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"mysql deadlock", &mysqldriver.MySQLError{Number: 1213}, true},
		{"mysql lock wait", &mysqldriver.MySQLError{Number: 1205}, true},
		{"mysql duplicate", &mysqldriver.MySQLError{Number: 1062}, false},
		{"postgres serialization", &pgconn.PgError{Code: "40001"}, true},
		{"postgres deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"wrapped", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSerializationFailure(tc.err))
		})
	}
}

func TestParseIsolation(t *testing.T) {
	assert.Equal(t, sql.LevelSerializable, ParseIsolation("serializable"))
	assert.Equal(t, sql.LevelRepeatableRead, ParseIsolation("REPEATABLE READ"))
	assert.Equal(t, sql.LevelReadCommitted, ParseIsolation("read_committed"))
	assert.Equal(t, sql.LevelDefault, ParseIsolation("whatever"))
}

func TestWithTxIsolationCommitAndRollback(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	err := d.WithTxIsolation(ctx, "SERIALIZABLE", func(ctx context.Context) error {
		return FromContext(ctx, d.DB).Create(&account{ID: "a", Balance: 10}).Error
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = d.WithTxIsolation(ctx, "SERIALIZABLE", func(ctx context.Context) error {
		if err := FromContext(ctx, d.DB).Create(&account{ID: "b", Balance: 5}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, d.Model(&account{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "rolled back insert is not visible")
}

func TestWithTxIsolationReusesOuterTx(t *testing.T) {
	d := newSQLite(t)
	ctx := context.Background()

	var outer, inner *gorm.DB
	err := d.WithTxIsolation(ctx, "SERIALIZABLE", func(ctx context.Context) error {
		outer, _ = TxFromContext(ctx)
		return d.WithTxIsolation(ctx, "SERIALIZABLE", func(ctx context.Context) error {
			inner, _ = TxFromContext(ctx)
			return nil
		})
	})
	require.NoError(t, err)
	require.NotNil(t, outer)
	assert.Same(t, outer, inner)

	_, ok := TxFromContext(ctx)
	assert.False(t, ok)
}

func TestUpsertWithConflict(t *testing.T) {
	d := newSQLite(t)
	require.NoError(t, UpsertWithConflict(d.DB, &account{ID: "a", Balance: 1}, []string{"id"}, []string{"balance"}))
	require.NoError(t, UpsertWithConflict(d.DB, &account{ID: "a", Balance: 7}, []string{"id"}, []string{"balance"}))

	var got account
	require.NoError(t, d.First(&got, "id = ?", "a").Error)
	assert.Equal(t, int64(7), got.Balance)
}

func TestInitRejectsUnknownDriver(t *testing.T) {
	_, err := Init(Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Equal(t, "sqlite", newSQLite(t).Driver())
}
