// Package mysql 基于 GORM 的撮合存储，支持 MySQL、Postgres 与 SQLite
package mysql

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 实现 domain.Store。事务通过 ctx 传递，仓储方法自动参与
type Store struct {
	db        *db.DB
	isolation string
}

func NewStore(database *db.DB, isolation string) *Store {
	if isolation == "" {
		isolation = "SERIALIZABLE"
	}
	return &Store{db: database, isolation: isolation}
}

// AutoMigrate 建表
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&OrderModel{},
		&TradeModel{},
		&HoldingModel{},
		&BalanceModel{},
		&PricePointModel{},
		&ListingModel{},
	)
}

// WithSerializableTx 序列化冲突统一转换为 ErrTransientConflict
func (s *Store) WithSerializableTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.db.WithTxIsolation(ctx, s.isolation, fn)
	if err != nil && domain.CodeOf(err) == "" && db.IsSerializationFailure(err) {
		return domain.NewTransientConflictError(err)
	}
	return err
}

func (s *Store) Orders() domain.OrderRepository     { return orderRepository{s} }
func (s *Store) Trades() domain.TradeRepository     { return tradeRepository{s} }
func (s *Store) Holdings() domain.HoldingRepository { return holdingRepository{s} }
func (s *Store) Balances() domain.BalanceRepository { return balanceRepository{s} }
func (s *Store) Prices() domain.PriceRepository     { return priceRepository{s} }
func (s *Store) Listings() domain.ListingRepository { return listingRepository{s} }

func (s *Store) getDB(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, s.db.DB)
}

// forUpdate 事务内的读加行锁；SQLite 整库串行，不支持 FOR UPDATE
func (s *Store) forUpdate(ctx context.Context) *gorm.DB {
	tx := s.getDB(ctx)
	if _, ok := db.TxFromContext(ctx); ok && s.db.Driver() != "sqlite" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func openStatuses() []string {
	out := make([]string, 0, len(domain.OpenStatuses))
	for _, st := range domain.OpenStatuses {
		out = append(out, string(st))
	}
	return out
}

// --- orders ---

type orderRepository struct{ s *Store }

func (r orderRepository) Create(ctx context.Context, order *domain.Order) error {
	m := toOrderModel(order)
	m.ID = 0
	if err := r.s.getDB(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	order.Seq = int64(m.ID)
	return nil
}

func (r orderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var m OrderModel
	err := r.s.forUpdate(ctx).Where("order_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewOrderNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	return toOrder(&m), nil
}

func (r orderRepository) Update(ctx context.Context, order *domain.Order) error {
	res := r.s.getDB(ctx).Model(&OrderModel{}).Where("order_id = ?", order.ID).Updates(map[string]any{
		"filled_quantity":    order.FilledQuantity,
		"remaining_quantity": order.RemainingQuantity,
		"cancelled_quantity": order.CancelledQuantity,
		"status":             string(order.Status),
		"cancel_reason":      order.CancelReason,
		"updated_at":         order.UpdatedAt.UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewOrderNotFoundError(order.ID)
	}
	return nil
}

func (r orderRepository) NextCandidate(ctx context.Context, q domain.CandidateQuery) (*domain.Order, error) {
	tx := r.s.forUpdate(ctx).
		Where("symbol = ? AND side = ? AND status IN ?", q.Symbol, string(q.Side), openStatuses()).
		Where("remaining_quantity > 0 AND limit_price IS NOT NULL").
		Where("account_id <> ?", q.ExcludeAccountID).
		Where("expires_at IS NULL OR expires_at > ?", q.Now.UTC())

	priceOrder := "limit_price DESC"
	if q.Side == domain.SideSell {
		priceOrder = "limit_price ASC"
	}
	if q.PriceBound.Valid {
		if q.Side == domain.SideSell {
			tx = tx.Where("limit_price <= ?", q.PriceBound.Decimal)
		} else {
			tx = tx.Where("limit_price >= ?", q.PriceBound.Decimal)
		}
	}

	var m OrderModel
	err := tx.Order(priceOrder).Order("created_at ASC").Order("id ASC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toOrder(&m), nil
}

func (r orderRepository) ListByAccount(ctx context.Context, accountID string, status domain.OrderStatus, limit, offset int) ([]*domain.Order, int64, error) {
	var (
		models []OrderModel
		total  int64
	)
	tx := r.s.getDB(ctx).Model(&OrderModel{}).Where("account_id = ?", accountID)
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, toOrder(&models[i]))
	}
	return out, total, nil
}

func (r orderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.s.getDB(ctx).
		Where("type = ? AND status IN ?", string(domain.TypeLimit), openStatuses()).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Order("expires_at ASC").Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(models))
	for i := range models {
		out = append(out, toOrder(&models[i]))
	}
	return out, nil
}

type levelRow struct {
	Price      decimal.Decimal
	Quantity   int64
	OrderCount int
}

func (r orderRepository) OrderBook(ctx context.Context, symbol string, depth int, now time.Time) (*domain.OrderBookSnapshot, error) {
	bids, err := r.levels(ctx, symbol, domain.SideBuy, depth, now)
	if err != nil {
		return nil, err
	}
	asks, err := r.levels(ctx, symbol, domain.SideSell, depth, now)
	if err != nil {
		return nil, err
	}
	return &domain.OrderBookSnapshot{Symbol: symbol, Bids: bids, Asks: asks, Timestamp: now}, nil
}

func (r orderRepository) levels(ctx context.Context, symbol string, side domain.OrderSide, depth int, now time.Time) ([]domain.OrderBookLevel, error) {
	priceOrder := "limit_price DESC"
	if side == domain.SideSell {
		priceOrder = "limit_price ASC"
	}
	var rows []levelRow
	tx := r.s.getDB(ctx).Model(&OrderModel{}).
		Select("limit_price AS price, SUM(remaining_quantity) AS quantity, COUNT(*) AS order_count").
		Where("symbol = ? AND side = ? AND status IN ?", symbol, string(side), openStatuses()).
		Where("remaining_quantity > 0 AND limit_price IS NOT NULL").
		Where("expires_at IS NULL OR expires_at > ?", now.UTC()).
		Group("limit_price").
		Order(priceOrder)
	if depth > 0 {
		tx = tx.Limit(depth)
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate %s levels: %w", side, err)
	}
	out := make([]domain.OrderBookLevel, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.OrderBookLevel{Price: row.Price, Quantity: row.Quantity, OrderCount: row.OrderCount})
	}
	return out, nil
}

// --- trades ---

type tradeRepository struct{ s *Store }

func (r tradeRepository) Create(ctx context.Context, trade *domain.Trade) error {
	return r.s.getDB(ctx).Create(toTradeModel(trade)).Error
}

func (r tradeRepository) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	var models []TradeModel
	tx := r.s.getDB(ctx).Where("symbol = ?", symbol).Order("executed_at DESC").Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func (r tradeRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	var models []TradeModel
	err := r.s.getDB(ctx).
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("executed_at ASC").Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toTrades(models), nil
}

func toTrades(models []TradeModel) []*domain.Trade {
	out := make([]*domain.Trade, 0, len(models))
	for i := range models {
		out = append(out, toTrade(&models[i]))
	}
	return out
}

// --- holdings ---

type holdingRepository struct{ s *Store }

func (r holdingRepository) Get(ctx context.Context, accountID, symbol string) (*domain.Holding, error) {
	var m HoldingModel
	err := r.s.forUpdate(ctx).Where("account_id = ? AND symbol = ?", accountID, symbol).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toHolding(&m), nil
}

func (r holdingRepository) Save(ctx context.Context, holding *domain.Holding) error {
	return db.UpsertWithConflict(r.s.getDB(ctx), toHoldingModel(holding),
		[]string{"account_id", "symbol"},
		[]string{"shares_owned", "average_buy_price", "total_invested", "updated_at"})
}

// --- balances ---

type balanceRepository struct{ s *Store }

func (r balanceRepository) Get(ctx context.Context, accountID string) (*domain.AccountBalance, error) {
	var m BalanceModel
	err := r.s.forUpdate(ctx).Where("account_id = ?", accountID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.AccountBalance{AccountID: m.AccountID, Balance: m.Balance, Version: m.Version, UpdatedAt: m.UpdatedAt}, nil
}

// Save 按版本号乐观更新，读到的版本已被他人改写时返回 TransientConflict
func (r balanceRepository) Save(ctx context.Context, balance *domain.AccountBalance) error {
	model := &BalanceModel{
		AccountID: balance.AccountID,
		Balance:   balance.Balance,
		Version:   balance.Version,
		UpdatedAt: balance.UpdatedAt.UTC(),
	}
	expected := balance.Version - 1
	if expected <= 0 {
		return r.s.getDB(ctx).Create(model).Error
	}
	res := r.s.getDB(ctx).Model(&BalanceModel{}).
		Where("account_id = ? AND version = ?", balance.AccountID, expected).
		Updates(map[string]any{
			"balance":    model.Balance,
			"version":    model.Version,
			"updated_at": model.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewTransientConflictError(fmt.Errorf("balance of %s changed since version %d", balance.AccountID, expected))
	}
	return nil
}

// --- prices ---

type priceRepository struct{ s *Store }

func (r priceRepository) Append(ctx context.Context, point *domain.PricePoint) error {
	return r.s.getDB(ctx).Create(&PricePointModel{
		Symbol:    point.Symbol,
		Price:     point.Price,
		Volume:    point.Volume,
		Timestamp: point.Timestamp.UTC(),
	}).Error
}

func (r priceRepository) Latest(ctx context.Context, symbol string) (*domain.PricePoint, error) {
	var m PricePointModel
	err := r.s.getDB(ctx).Where("symbol = ?", symbol).Order("timestamp DESC").Order("id DESC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toPricePoint(&m), nil
}

// History 取 since 之后最新的 limit 条，按时间升序返回
func (r priceRepository) History(ctx context.Context, symbol string, since time.Time, limit int) ([]*domain.PricePoint, error) {
	var models []PricePointModel
	tx := r.s.getDB(ctx).Where("symbol = ? AND timestamp >= ?", symbol, since.UTC()).Order("timestamp DESC").Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	slices.Reverse(models)
	out := make([]*domain.PricePoint, 0, len(models))
	for i := range models {
		out = append(out, toPricePoint(&models[i]))
	}
	return out, nil
}

// --- listings ---

type listingRepository struct{ s *Store }

func (r listingRepository) Get(ctx context.Context, symbol string) (*domain.Listing, error) {
	var m ListingModel
	err := r.s.getDB(ctx).Where("symbol = ?", symbol).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.Listing{
		Symbol:    m.Symbol,
		Name:      m.Name,
		Tradeable: m.Tradeable,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (r listingRepository) Save(ctx context.Context, listing *domain.Listing) error {
	return db.UpsertWithConflict(r.s.getDB(ctx), &ListingModel{
		Symbol:    listing.Symbol,
		Name:      listing.Name,
		Tradeable: listing.Tradeable,
		CreatedAt: listing.CreatedAt.UTC(),
		UpdatedAt: listing.UpdatedAt.UTC(),
	}, []string{"symbol"}, []string{"name", "tradeable", "updated_at"})
}
