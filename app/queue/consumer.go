package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/service"
)

// Flusher runs one spool flush cycle.
type Flusher interface {
	Flush(ctx context.Context, reason string) (service.Summary, error)
}

type FlushConsumer struct {
	client       *redis.Client
	flusher      Flusher
	consumerName string
	timeout      time.Duration
	logger       logrus.FieldLogger
}

// NewFlushConsumer constructs a Redis stream consumer. timeout bounds one
// flush cycle; zero means 5 minutes.
func NewFlushConsumer(client *redis.Client, flusher Flusher, consumerName string, timeout time.Duration, logger logrus.FieldLogger) *FlushConsumer {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FlushConsumer{
		client:       client,
		flusher:      flusher,
		consumerName: consumerName,
		timeout:      timeout,
		logger:       logger.WithFields(logrus.Fields{"component": "flush-consumer", "consumer": consumerName}),
	}
}

// Run starts the consumer loop and blocks until context cancellation.
func (c *FlushConsumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.logger.WithField("stream", StreamName).Info("consumer started")

	// First drain pending messages, then switch to reading new ones.
	startID := "0"
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer shutting down")
			return nil
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    ConsumerGroup,
			Consumer: c.consumerName,
			Streams:  []string{StreamName, startID},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if startID == "0" {
					startID = ">"
				}
				continue
			}
			if ctx.Err() != nil {
				c.logger.Info("consumer shutting down")
				return nil
			}
			c.logger.WithError(err).Error("XReadGroup failed")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			if len(stream.Messages) == 0 && startID == "0" {
				startID = ">"
				continue
			}
			for _, msg := range stream.Messages {
				c.processMessage(ctx, msg)
			}
		}
	}
}

// processMessage runs a flush cycle and acks on success. A request that lost
// the race to another flusher is acked too: the spool is being flushed anyway.
func (c *FlushConsumer) processMessage(ctx context.Context, msg redis.XMessage) {
	requestID, _ := msg.Values["request_id"].(string)
	reason, _ := msg.Values["reason"].(string)
	logger := c.logger.WithFields(logrus.Fields{"message_id": msg.ID, "request_id": requestID})

	logger.Info("processing flush request")

	flushCtx := service.WithRequestID(ctx, requestID)
	flushCtx, cancel := context.WithTimeout(flushCtx, c.timeout)
	defer cancel()

	summary, err := c.flusher.Flush(flushCtx, reason)
	switch {
	case errors.Is(err, service.ErrFlushInProgress):
		logger.Info("flush already in progress elsewhere, acking request")
	case errors.Is(err, service.ErrDuplicateRequestID):
		logger.Warn("flush request already recorded, acking duplicate")
	case err != nil:
		logger.WithError(err).Error("flush failed, message stays pending")
		return
	default:
		logger.WithFields(logrus.Fields{"files": summary.Files, "removed": summary.Removed}).Info("flush request done")
	}

	if err := c.client.XAck(ctx, StreamName, ConsumerGroup, msg.ID).Err(); err != nil {
		logger.WithError(err).Error("XAck failed")
	}
}

// ensureGroup creates the stream and consumer group if missing.
func (c *FlushConsumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, StreamName, ConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}
