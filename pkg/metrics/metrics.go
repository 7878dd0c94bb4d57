// Package metrics 提供 Prometheus 指标：HTTP 请求与撮合业务指标
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/sharematching/pkg/logger"
)

const namespace = "trading"

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 下单数，按类型/方向
	OrdersPlaced *prometheus.CounterVec
	// 成交笔数
	TradesExecuted prometheus.Counter
	// 成交股数
	TradeVolume prometheus.Counter
	// 拒单，按错误码
	Rejections *prometheus.CounterVec
	// 序列化冲突重试次数
	ConflictRetries prometheus.Counter
	// 单次下单撮合耗时
	MatchLatency prometheus.Histogram
	// 撤单，按原因（user/expired/...）
	Cancellations *prometheus.CounterVec
	// 事件投递失败
	EventPublishFailures *prometheus.CounterVec
}

// New 创建指标实例（未注册）
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "orders_placed_total",
			Help:      "Total orders accepted for matching",
		}, []string{"type", "side"}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "trades_executed_total",
			Help:      "Total trades executed",
		}),
		TradeVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "trade_volume_shares_total",
			Help:      "Total shares traded",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "order_rejections_total",
			Help:      "Order placements or cancellations rejected, by error code",
		}, []string{"code"}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "conflict_retries_total",
			Help:      "Storage serialization conflicts retried",
		}),
		MatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "match_duration_seconds",
			Help:      "Order placement and matching duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "order_cancellations_total",
			Help:      "Orders cancelled, by reason",
		}, []string{"reason"}),
		EventPublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "event_publish_failures_total",
			Help:      "Event deliveries that failed, by event type",
		}, []string{"type"}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OrdersPlaced,
		m.TradesExecuted,
		m.TradeVolume,
		m.Rejections,
		m.ConflictRetries,
		m.MatchLatency,
		m.Cancellations,
		m.EventPublishFailures,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// Handler Prometheus 抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOrder 记录下单
func (m *Metrics) RecordOrder(orderType, side string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(orderType, side).Inc()
}

// RecordTrade 记录成交
func (m *Metrics) RecordTrade(quantity int64) {
	if m == nil {
		return
	}
	m.TradesExecuted.Inc()
	m.TradeVolume.Add(float64(quantity))
}

// RecordRejection 记录拒单
func (m *Metrics) RecordRejection(code string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(code).Inc()
}

// RecordConflictRetry 记录冲突重试
func (m *Metrics) RecordConflictRetry() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}

// ObserveMatch 记录撮合耗时
func (m *Metrics) ObserveMatch(d time.Duration) {
	if m == nil {
		return
	}
	m.MatchLatency.Observe(d.Seconds())
}

// RecordCancellation 记录撤单
func (m *Metrics) RecordCancellation(reason string) {
	if m == nil {
		return
	}
	m.Cancellations.WithLabelValues(reason).Inc()
}

// RecordPublishFailure 记录事件投递失败
func (m *Metrics) RecordPublishFailure(eventType string) {
	if m == nil {
		return
	}
	m.EventPublishFailures.WithLabelValues(eventType).Inc()
}
