package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vibast-solutions/ms-go-collector/app/spool"
)

// DeliveredProducer announces completed spool files so that downstream
// loaders can pick up the remote copies.
type DeliveredProducer struct {
	client *redis.Client
	stream string
}

// NewDeliveredProducer publishes to stream, or DeliveredStream when stream is empty.
func NewDeliveredProducer(client *redis.Client, stream string) *DeliveredProducer {
	if stream == "" {
		stream = DeliveredStream
	}
	return &DeliveredProducer{client: client, stream: stream}
}

// NotifyDelivered pushes one entry describing f and its remote copy.
func (p *DeliveredProducer) NotifyDelivered(ctx context.Context, f spool.File, outputPath string) error {
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_name":    f.EventName,
			"serialization": string(f.Serialization),
			"local_path":    f.Path,
			"output_path":   outputPath,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd to %s: %w", p.stream, err)
	}
	return nil
}
