package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFlushProducerPublish(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	producer := NewFlushProducer(client)
	if err := producer.Publish(context.Background(), FlushMessage{
		RequestID: "req-1",
		Reason:    "manual",
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs, err := client.XRange(context.Background(), StreamName, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Values["request_id"] != "req-1" || msgs[0].Values["reason"] != "manual" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}
