package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisStreamRequired is returned when the stream name is empty.
	ErrRedisStreamRequired = errors.New("pkgqueue: redis stream is required")
	// ErrRedisGroupRequired is returned when Consume is called without a group.
	ErrRedisGroupRequired = errors.New("pkgqueue: redis consumer group is required")
	// ErrRedisClientRequired is returned when no client is provided.
	ErrRedisClientRequired = errors.New("pkgqueue: redis client is required")
)

const (
	redisBodyField    = "body"
	redisHeadersField = "headers"
)

// RedisConfig configures the Redis Streams implementation.
type RedisConfig struct {
	// Client is an initialized go-redis client.
	Client *redis.Client

	// Consumer names this instance inside consumer groups. Falls back to the
	// per-call WithConsumerName option.
	Consumer string
}

// Redis is a Gateway implementation backed by Redis Streams.
type Redis struct {
	client   *redis.Client
	consumer string

	mu     sync.Mutex
	groups map[string]struct{}
	closed bool
}

// NewRedis constructs a Redis Streams gateway around an existing client.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrRedisClientRequired
	}

	return &Redis{
		client:   cfg.Client,
		consumer: cfg.Consumer,
		groups:   map[string]struct{}{},
	}, nil
}

// Close marks the gateway closed. The underlying client is owned by the caller.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Publish appends a message to a Redis stream.
func (r *Redis) Publish(ctx context.Context, destination string, msg OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if destination == "" {
		return ErrRedisStreamRequired
	}

	values := map[string]any{redisBodyField: msg.Body}
	if len(msg.Headers) > 0 {
		encoded, err := json.Marshal(headersToMap(msg.Headers))
		if err != nil {
			return fmt.Errorf("pkgqueue: redis encode headers: %w", err)
		}
		values[redisHeadersField] = encoded
	}

	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: destination,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("pkgqueue: redis xadd: %w", err)
	}

	return nil
}

// Consume reads up to maxMessages from a consumer group, draining the
// pending entries list before asking for new messages so nacked deliveries
// are retried first.
func (r *Redis) Consume(ctx context.Context, source string, maxMessages int, opts ...ConsumeOption) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, ErrRedisStreamRequired
	}
	if maxMessages <= 0 {
		return nil, nil
	}

	co := newConsumeOptions(opts...)
	if co.group == "" {
		return nil, ErrRedisGroupRequired
	}
	consumer := co.consumer
	if consumer == "" {
		consumer = r.consumer
	}
	if consumer == "" {
		consumer = "default"
	}

	if err := r.ensureGroup(ctx, source, co.group); err != nil {
		return nil, err
	}

	deliveries, err := r.read(ctx, source, co.group, consumer, "0", int64(maxMessages), 0)
	if err != nil {
		return nil, err
	}
	if len(deliveries) >= maxMessages {
		return deliveries, nil
	}

	fresh, err := r.read(ctx, source, co.group, consumer, ">", int64(maxMessages-len(deliveries)), co.wait)
	if err != nil {
		return nil, err
	}
	return append(deliveries, fresh...), nil
}

func (r *Redis) read(ctx context.Context, stream, group, consumer, cursor string, count int64, block time.Duration) ([]Delivery, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, cursor},
		Count:    count,
	}
	if block > 0 {
		args.Block = block
	} else {
		args.Block = -1
	}

	streams, err := r.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pkgqueue: redis xreadgroup: %w", err)
	}

	var deliveries []Delivery
	for _, s := range streams {
		for _, m := range s.Messages {
			deliveries = append(deliveries, newRedisDelivery(r.client, stream, group, m))
		}
	}
	return deliveries, nil
}

func (r *Redis) ensureGroup(ctx context.Context, stream, group string) error {
	key := stream + "/" + group

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return io.ErrClosedPipe
	}
	if _, ok := r.groups[key]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("pkgqueue: redis create group: %w", err)
	}

	r.mu.Lock()
	r.groups[key] = struct{}{}
	r.mu.Unlock()
	return nil
}

func headersToMap(headers []Header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		if h.Key == "" {
			continue
		}
		if _, ok := m[h.Key]; ok {
			continue
		}
		m[h.Key] = string(h.Value)
	}
	return m
}
