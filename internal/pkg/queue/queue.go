package queue

import (
	"context"
	"errors"
	"io"
)

// ErrUnsupported is returned when a feature is not supported by the selected broker.
var ErrUnsupported = errors.New("pkgqueue: unsupported operation")

// Gateway is a broker-agnostic client that can publish and consume messages.
//
// Implementations can wrap NATS JetStream, Redis Streams, Kafka
// or any other messaging system.
type Gateway interface {
	io.Closer

	Publisher
	Consumer
}

// Publisher publishes messages to a destination (subject/stream/topic).
type Publisher interface {
	// Publish sends a message to the destination.
	Publish(ctx context.Context, destination string, msg OutgoingMessage) error
}

// Consumer pulls batches of messages from a source.
//
// Consume returns at most maxMessages deliveries; an empty slice means no
// messages were available within the configured wait window. Each delivery
// must be settled with Ack or Nack.
type Consumer interface {
	Consume(ctx context.Context, source string, maxMessages int, opts ...ConsumeOption) ([]Delivery, error)
}

// OutgoingMessage represents a broker-agnostic message to be published.
type OutgoingMessage struct {
	// Body is the message payload.
	Body []byte

	// Key is commonly used by Kafka for partitioning.
	Key []byte

	// Headers support arbitrary binary values and duplicate keys.
	Headers []Header
}

// Header is a key/value pair used for message headers.
type Header struct {
	// Key is the header name.
	Key string
	// Value is the header value.
	Value []byte
}

// Delivery is a broker-agnostic received message with its ack token.
type Delivery interface {
	// ID returns the broker message ID when applicable.
	ID() string
	// Body returns the message payload.
	Body() []byte
	// Headers returns message headers.
	Headers() []Header

	// Ack acknowledges successful processing (delete/commit/ack).
	Ack(ctx context.Context) error
	// Nack requests a redelivery.
	Nack(ctx context.Context) error
}
