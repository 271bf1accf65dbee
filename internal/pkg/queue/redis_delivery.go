package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

type redisDelivery struct {
	client *redis.Client
	stream string
	group  string
	msg    redis.XMessage

	settled atomic.Bool
}

func newRedisDelivery(client *redis.Client, stream, group string, msg redis.XMessage) *redisDelivery {
	return &redisDelivery{
		client: client,
		stream: stream,
		group:  group,
		msg:    msg,
	}
}

func (d *redisDelivery) ID() string { return d.msg.ID }

func (d *redisDelivery) Body() []byte {
	switch v := d.msg.Values[redisBodyField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func (d *redisDelivery) Headers() []Header {
	raw, ok := d.msg.Values[redisHeadersField].(string)
	if !ok || raw == "" {
		return nil
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}

	headers := make([]Header, 0, len(m))
	for k, v := range m {
		headers = append(headers, Header{Key: k, Value: []byte(v)})
	}
	return headers
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.settled.Swap(true) {
		return nil
	}
	return d.client.XAck(ctx, d.stream, d.group, d.msg.ID).Err()
}

// Nack leaves the entry in the pending list so the next Consume picks it up.
func (d *redisDelivery) Nack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.settled.Store(true)
	return nil
}
