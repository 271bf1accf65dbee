package queue

import "time"

type consumeOptions struct {
	// group identifies the consumer group name.
	// Used for Kafka consumer groups and Redis Streams groups.
	group string

	// durable specifies the durable consumer name.
	// Used for NATS JetStream pull consumers.
	durable string

	// consumer names this instance within a group.
	// Used for Redis Streams consumers.
	consumer string

	// wait bounds how long Consume blocks waiting for messages.
	wait time.Duration

	// params contains broker-specific configuration options.
	params map[string]string
}

// ConsumeOption configures consumer behavior.
type ConsumeOption func(*consumeOptions)

func newConsumeOptions(opts ...ConsumeOption) consumeOptions {
	co := consumeOptions{wait: time.Second}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&co)
	}
	return co
}

// WithGroup sets the consumer group name (Kafka, Redis Streams).
func WithGroup(group string) ConsumeOption {
	return func(o *consumeOptions) { o.group = group }
}

// WithDurable sets the durable consumer name (NATS JetStream).
func WithDurable(durable string) ConsumeOption {
	return func(o *consumeOptions) { o.durable = durable }
}

// WithConsumerName names this instance within a consumer group (Redis Streams).
func WithConsumerName(name string) ConsumeOption {
	return func(o *consumeOptions) { o.consumer = name }
}

// WithWait bounds how long Consume blocks waiting for messages.
func WithWait(d time.Duration) ConsumeOption {
	return func(o *consumeOptions) {
		if d > 0 {
			o.wait = d
		}
	}
}

// WithParams sets broker-specific parameters in bulk.
func WithParams(params map[string]string) ConsumeOption {
	return func(o *consumeOptions) {
		if len(params) == 0 {
			return
		}
		if o.params == nil {
			o.params = make(map[string]string, len(params))
		}
		for k, v := range params {
			o.params[k] = v
		}
	}
}

// WithParam sets a single broker-specific parameter.
func WithParam(key, value string) ConsumeOption {
	return func(o *consumeOptions) {
		if key == "" {
			return
		}
		if o.params == nil {
			o.params = make(map[string]string, 1)
		}
		o.params[key] = value
	}
}
