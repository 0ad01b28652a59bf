package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type FlushProducer struct {
	client *redis.Client
}

// NewFlushProducer constructs a Redis stream producer.
func NewFlushProducer(client *redis.Client) *FlushProducer {
	return &FlushProducer{client: client}
}

// Publish pushes a flush request onto the stream.
func (p *FlushProducer) Publish(ctx context.Context, msg FlushMessage) error {
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]interface{}{
			"request_id": msg.RequestID,
			"reason":     msg.Reason,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd to %s: %w", StreamName, err)
	}
	return nil
}
