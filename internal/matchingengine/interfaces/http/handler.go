package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/sharematching/internal/matchingengine/application"
	"github.com/wyfcoding/sharematching/internal/matchingengine/infrastructure/messaging"
	"github.com/wyfcoding/sharematching/pkg/middleware"
)

// MatchingHandler 负责处理 HTTP 请求
type MatchingHandler struct {
	cmd   *application.MatchingCommandService
	query *application.MatchingQueryService
	hub   *messaging.EventHub
}

// NewMatchingHandler hub 为 nil 时不提供事件推送
func NewMatchingHandler(cmd *application.MatchingCommandService, query *application.MatchingQueryService, hub *messaging.EventHub) *MatchingHandler {
	return &MatchingHandler{cmd: cmd, query: query, hub: hub}
}

func (h *MatchingHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/matching")
	{
		api.GET("/orderbook/:symbol", h.GetOrderBook)
		api.GET("/trades/:symbol", h.GetTrades)
		api.GET("/prices/:symbol", h.GetPrices)
		api.GET("/listings/:symbol", h.GetListing)
		api.GET("/ws", h.Stream)

		own := api.Group("", middleware.RequireAccount())
		own.POST("/orders", h.PlaceOrder)
		own.GET("/orders", h.ListOrders)
		own.GET("/orders/:id", h.GetOrder)
		own.DELETE("/orders/:id", h.CancelOrder)
		own.GET("/holdings/:symbol", h.GetHolding)
		own.GET("/balance", h.GetBalance)
	}

	// 运营接口，由网关限制访问
	admin := router.Group("/api/v1/admin")
	{
		admin.POST("/deposits", h.Deposit)
		admin.POST("/holdings", h.SeedHolding)
		admin.POST("/listings", h.UpsertListing)
	}
}

// PlaceOrderRequest 下单请求
type PlaceOrderRequest struct {
	Symbol     string              `json:"symbol" binding:"required"`
	Side       string              `json:"side" binding:"required"`
	Type       string              `json:"type" binding:"required"`
	Quantity   int64               `json:"quantity"`
	LimitPrice decimal.NullDecimal `json:"limit_price"`
	ExpiresAt  *time.Time          `json:"expires_at"`
}

// PlaceOrder 下单并立即撮合。部分成交后失败时同时返回已成交部分
func (h *MatchingHandler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request data: "+err.Error())
		return
	}

	cmd := application.PlaceOrderCommand{
		AccountID:  middleware.AccountID(c),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		ExpiresAt:  req.ExpiresAt,
	}
	// 非法参数在读取上市状态之前拒绝
	if err := h.cmd.ValidatePlaceOrder(cmd); err != nil {
		failure(c, err, nil)
		return
	}

	ctx := c.Request.Context()
	tradeable, err := h.query.IsTradeable(ctx, req.Symbol)
	if err != nil {
		failure(c, err, nil)
		return
	}
	cmd.Tradeable = tradeable

	result, err := h.cmd.PlaceOrder(ctx, cmd)
	if err != nil {
		failure(c, err, result)
		return
	}

	success(c, http.StatusCreated, result)
}

// CancelOrder 撤销自己的订单
func (h *MatchingHandler) CancelOrder(c *gin.Context) {
	order, err := h.cmd.CancelOrder(c.Request.Context(), application.CancelOrderCommand{
		AccountID: middleware.AccountID(c),
		OrderID:   c.Param("id"),
	})
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, order)
}

func (h *MatchingHandler) GetOrder(c *gin.Context) {
	detail, err := h.query.GetOrder(c.Request.Context(), middleware.AccountID(c), c.Param("id"))
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, detail)
}

// ListOrders 支持 status、limit、offset 查询参数
func (h *MatchingHandler) ListOrders(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	orders, total, err := h.query.ListOrders(c.Request.Context(), middleware.AccountID(c), c.Query("status"), limit, offset)
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, gin.H{"orders": orders, "total": total})
}

func (h *MatchingHandler) GetOrderBook(c *gin.Context) {
	depth, ok := queryInt(c, "depth", 0)
	if !ok {
		return
	}
	snapshot, err := h.query.GetOrderBook(c.Request.Context(), c.Param("symbol"), depth)
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, snapshot)
}

// GetTrades 最近成交，最新在前
func (h *MatchingHandler) GetTrades(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	trades, err := h.query.GetTrades(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, trades)
}

// GetPrices 当前价与价格走势，since 为 RFC3339 时间
func (h *MatchingHandler) GetPrices(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid since parameter")
			return
		}
		since = t
	}

	history, err := h.query.GetPriceHistory(c.Request.Context(), c.Param("symbol"), since, limit)
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, history)
}

func (h *MatchingHandler) GetHolding(c *gin.Context) {
	holding, err := h.query.GetHolding(c.Request.Context(), middleware.AccountID(c), c.Param("symbol"))
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, holding)
}

func (h *MatchingHandler) GetBalance(c *gin.Context) {
	balance, err := h.query.GetBalance(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, balance)
}

func (h *MatchingHandler) GetListing(c *gin.Context) {
	listing, err := h.query.GetListing(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, listing)
}

// DepositRequest 入金请求
type DepositRequest struct {
	AccountID string          `json:"account_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

func (h *MatchingHandler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request data: "+err.Error())
		return
	}
	balance, err := h.cmd.Deposit(c.Request.Context(), application.DepositCommand{
		AccountID: req.AccountID,
		Amount:    req.Amount,
	})
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, balance)
}

// SeedHoldingRequest 初始持仓请求
type SeedHoldingRequest struct {
	AccountID string          `json:"account_id" binding:"required"`
	Symbol    string          `json:"symbol" binding:"required"`
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
}

func (h *MatchingHandler) SeedHolding(c *gin.Context) {
	var req SeedHoldingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request data: "+err.Error())
		return
	}
	holding, err := h.cmd.SeedHolding(c.Request.Context(), application.SeedHoldingCommand{
		AccountID: req.AccountID,
		Symbol:    req.Symbol,
		Shares:    req.Shares,
		Price:     req.Price,
	})
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, holding)
}

// UpsertListingRequest 创建/更新标的
type UpsertListingRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Name      string `json:"name"`
	Tradeable bool   `json:"tradeable"`
}

func (h *MatchingHandler) UpsertListing(c *gin.Context) {
	var req UpsertListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request data: "+err.Error())
		return
	}
	listing, err := h.cmd.UpsertListing(c.Request.Context(), application.UpsertListingCommand{
		Symbol:    req.Symbol,
		Name:      req.Name,
		Tradeable: req.Tradeable,
	})
	if err != nil {
		failure(c, err, nil)
		return
	}
	success(c, http.StatusOK, listing)
}

// queryInt 解析整数查询参数，失败时已写入 400 响应
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}
