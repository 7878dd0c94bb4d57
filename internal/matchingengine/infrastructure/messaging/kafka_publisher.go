// Package messaging 撮合事件的投递端：Kafka 与进程内订阅中心
package messaging

import (
	"context"
	"fmt"

	"github.com/wyfcoding/sharematching/internal/matchingengine/domain"
)

// Producer pkg/mq.KafkaProducer 的最小接口
type Producer interface {
	SendMessage(ctx context.Context, topic string, key string, value any) error
}

// KafkaEventPublisher 每种事件一个 topic，按标的分区保证同一标的内有序
type KafkaEventPublisher struct {
	producer    Producer
	topicPrefix string
}

func NewKafkaEventPublisher(producer Producer, topicPrefix string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topicPrefix: topicPrefix}
}

// Publish 实现 domain.EventSink
func (p *KafkaEventPublisher) Publish(ctx context.Context, event domain.MatchingEvent) error {
	topic := p.topicPrefix + event.EventType()
	if err := p.producer.SendMessage(ctx, topic, event.Key(), domain.NewEnvelope(event)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType(), err)
	}
	return nil
}
