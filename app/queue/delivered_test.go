package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vibast-solutions/ms-go-collector/app/spool"
)

func TestDeliveredProducerPublishes(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := spool.File{Path: "/spool/a.smile", EventName: "FrontDoorVisit", Serialization: spool.SerializationSmile}
	if err := NewDeliveredProducer(client, "").NotifyDelivered(context.Background(), f, "/events/a.smile"); err != nil {
		t.Fatalf("NotifyDelivered: %v", err)
	}

	msgs, err := client.XRange(context.Background(), DeliveredStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	values := msgs[0].Values
	if values["event_name"] != "FrontDoorVisit" || values["output_path"] != "/events/a.smile" || values["serialization"] != "smile" {
		t.Fatalf("unexpected message %v", values)
	}
}
