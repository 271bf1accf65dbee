package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
)

type kafkaDelivery struct {
	reader *kafka.Reader
	msg    kafka.Message

	settled atomic.Bool
}

func newKafkaDelivery(reader *kafka.Reader, msg kafka.Message) *kafkaDelivery {
	return &kafkaDelivery{
		reader: reader,
		msg:    msg,
	}
}

func (d *kafkaDelivery) ID() string {
	return fmt.Sprintf("%s/%d/%d", d.msg.Topic, d.msg.Partition, d.msg.Offset)
}

func (d *kafkaDelivery) Body() []byte { return d.msg.Value }

func (d *kafkaDelivery) Headers() []Header {
	if len(d.msg.Headers) == 0 {
		return nil
	}
	out := make([]Header, 0, len(d.msg.Headers))
	for _, h := range d.msg.Headers {
		out = append(out, Header{Key: h.Key, Value: h.Value})
	}
	return out
}

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.settled.Swap(true) {
		return nil
	}
	return d.reader.CommitMessages(ctx, d.msg)
}

// Nack skips the commit; the group rebalance or restart redelivers the offset.
func (d *kafkaDelivery) Nack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.settled.Store(true)
	return nil
}
