package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue 从注册表中读取计数器，labels 需全部匹配
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestRecorders(t *testing.T) {
	m := New("matchingengine")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	m.RecordOrder("limit", "buy")
	m.RecordOrder("limit", "buy")
	m.RecordTrade(7)
	m.RecordRejection("INSUFFICIENT_FUNDS")
	m.RecordConflictRetry()
	m.ObserveMatch(3 * time.Millisecond)
	m.RecordCancellation("expired")
	m.RecordPublishFailure("matching.trade.executed")
	m.RecordHTTPRequest("POST", "/api/v1/matching/orders", 201, time.Millisecond)

	assert.InDelta(t, 2, counterValue(t, reg, "trading_matchingengine_orders_placed_total", map[string]string{"type": "limit", "side": "buy"}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "trading_matchingengine_trades_executed_total", nil), 0)
	assert.InDelta(t, 7, counterValue(t, reg, "trading_matchingengine_trade_volume_shares_total", nil), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "trading_matchingengine_order_rejections_total", map[string]string{"code": "INSUFFICIENT_FUNDS"}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "trading_matchingengine_order_cancellations_total", map[string]string{"reason": "expired"}), 0)
	assert.InDelta(t, 1, counterValue(t, reg, "trading_matchingengine_http_requests_total", map[string]string{"status": "201"}), 0)

	require.Error(t, m.Register(reg), "duplicate registration is rejected")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOrder("market", "sell")
		m.RecordTrade(1)
		m.RecordRejection("X")
		m.RecordConflictRetry()
		m.ObserveMatch(time.Millisecond)
		m.RecordCancellation("user")
		m.RecordPublishFailure("x")
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	})
}
