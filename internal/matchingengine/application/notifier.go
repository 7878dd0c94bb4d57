package application

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
	"github.com/wyfcoding/sharematching/pkg/metrics"
)

// Notifier 将已提交的领域事件扇出到各投递端。
// 投递失败只记录日志与指标，不影响撮合结果
type Notifier struct {
	sinks   []domain.EventSink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewNotifier 创建事件通知器
func NewNotifier(logger *slog.Logger, m *metrics.Metrics, sinks ...domain.EventSink) *Notifier {
	return &Notifier{
		sinks:   sinks,
		metrics: m,
		logger:  logger.With("module", "matching_notifier"),
	}
}

// AddSink 追加投递端
func (n *Notifier) AddSink(sink domain.EventSink) {
	n.sinks = append(n.sinks, sink)
}

// Notify 只能在事务提交之后调用
func (n *Notifier) Notify(ctx context.Context, events ...domain.MatchingEvent) {
	if n == nil {
		return
	}
	for _, event := range events {
		for _, sink := range n.sinks {
			if err := sink.Publish(ctx, event); err != nil {
				n.metrics.RecordPublishFailure(event.EventType())
				n.logger.WarnContext(ctx, "failed to publish matching event",
					"type", event.EventType(),
					"symbol", event.Key(),
					"error", err)
			}
		}
	}
}
