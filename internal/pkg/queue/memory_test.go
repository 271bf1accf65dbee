package queue

import (
	"context"
	"testing"
)

func TestMemoryPublishConsume(t *testing.T) {
	t.Parallel()

	g := NewMemory()
	ctx := context.Background()

	for _, body := range []string{"one", "two", "three"} {
		if err := g.Publish(ctx, "jobs", OutgoingMessage{Body: []byte(body)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	got, err := g.Consume(ctx, "jobs", 2)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if string(got[0].Body()) != "one" || string(got[1].Body()) != "two" {
		t.Fatalf("unexpected order: %q, %q", got[0].Body(), got[1].Body())
	}

	rest, err := g.Consume(ctx, "jobs", 10)
	if err != nil {
		t.Fatalf("consume rest: %v", err)
	}
	if len(rest) != 1 || string(rest[0].Body()) != "three" {
		t.Fatalf("unexpected remainder: %v", rest)
	}
}

func TestMemoryNackRequeues(t *testing.T) {
	t.Parallel()

	g := NewMemory()
	ctx := context.Background()

	if err := g.Publish(ctx, "jobs", OutgoingMessage{Body: []byte("retry-me")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first, err := g.Consume(ctx, "jobs", 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("consume: %v (%d deliveries)", err, len(first))
	}
	if err := first[0].Nack(ctx); err != nil {
		t.Fatalf("nack: %v", err)
	}

	second, err := g.Consume(ctx, "jobs", 1)
	if err != nil || len(second) != 1 {
		t.Fatalf("consume after nack: %v (%d deliveries)", err, len(second))
	}
	if string(second[0].Body()) != "retry-me" {
		t.Fatalf("unexpected body %q", second[0].Body())
	}
	if err := second[0].Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	empty, err := g.Consume(ctx, "jobs", 1)
	if err != nil {
		t.Fatalf("consume after ack: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty queue, got %d deliveries", len(empty))
	}
}

func TestMemoryDoubleSettleIsIdempotent(t *testing.T) {
	t.Parallel()

	g := NewMemory()
	ctx := context.Background()

	if err := g.Publish(ctx, "jobs", OutgoingMessage{Body: []byte("once")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := g.Consume(ctx, "jobs", 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("consume: %v (%d deliveries)", err, len(got))
	}
	if err := got[0].Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := got[0].Nack(ctx); err != nil {
		t.Fatalf("nack after ack: %v", err)
	}

	empty, err := g.Consume(ctx, "jobs", 1)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("nack after ack must not requeue, got %d deliveries", len(empty))
	}
}
