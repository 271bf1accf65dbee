package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	// ErrNATSSubjectRequired is returned when the subject is empty.
	ErrNATSSubjectRequired = errors.New("pkgqueue: nats subject is required")
	// ErrNATSURLRequired is returned when the NATS server URL is missing.
	ErrNATSURLRequired = errors.New("pkgqueue: nats url is required")
	// ErrNATSDurableRequired is returned when Consume is called without a durable name.
	ErrNATSDurableRequired = errors.New("pkgqueue: nats durable consumer name is required")
)

// NATSConfig configures the NATS JetStream implementation.
type NATSConfig struct {
	// URL is the NATS server address.
	URL string

	// Options are passed to the NATS client.
	Options []nats.Option
}

// NATS is a Gateway implementation backed by NATS JetStream pull consumers.
type NATS struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	closed bool
}

// NewNATS constructs a NATS JetStream gateway.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		return nil, ErrNATSURLRequired
	}

	conn, err := nats.Connect(cfg.URL, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("pkgqueue: nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pkgqueue: jetstream context: %w", err)
	}

	return &NATS{
		conn: conn,
		js:   js,
		subs: map[string]*nats.Subscription{},
	}, nil
}

// Close drains subscriptions and closes the NATS connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := make([]*nats.Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.subs = nil
	n.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}

	if err := n.conn.Drain(); err != nil {
		closeErr = errors.Join(closeErr, err)
	}
	n.conn.Close()
	return closeErr
}

// Publish sends a message to a JetStream subject.
func (n *NATS) Publish(ctx context.Context, destination string, msg OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if destination == "" {
		return ErrNATSSubjectRequired
	}

	nmsg := nats.NewMsg(destination)
	nmsg.Data = msg.Body

	for _, h := range msg.Headers {
		if h.Key == "" {
			continue
		}
		nmsg.Header.Add(h.Key, string(h.Value))
	}

	if _, err := n.js.PublishMsg(nmsg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("pkgqueue: nats publish: %w", err)
	}

	return nil
}

// Consume fetches up to maxMessages from a durable pull consumer.
func (n *NATS) Consume(ctx context.Context, source string, maxMessages int, opts ...ConsumeOption) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, ErrNATSSubjectRequired
	}
	if maxMessages <= 0 {
		return nil, nil
	}

	co := newConsumeOptions(opts...)
	if co.durable == "" {
		return nil, ErrNATSDurableRequired
	}

	sub, err := n.pullSubscription(source, co.durable)
	if err != nil {
		return nil, err
	}

	msgs, err := sub.Fetch(maxMessages, nats.MaxWait(co.wait))
	if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pkgqueue: nats fetch: %w", err)
	}

	deliveries := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		deliveries = append(deliveries, newNATSDelivery(msg, time.Now()))
	}
	return deliveries, nil
}

func (n *NATS) pullSubscription(subject, durable string) (*nats.Subscription, error) {
	key := subject + "/" + durable

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, io.ErrClosedPipe
	}
	if sub, ok := n.subs[key]; ok && sub.IsValid() {
		return sub, nil
	}

	sub, err := n.js.PullSubscribe(subject, durable, nats.AckExplicit())
	if err != nil {
		return nil, fmt.Errorf("pkgqueue: nats pull subscribe: %w", err)
	}
	n.subs[key] = sub
	return sub, nil
}
