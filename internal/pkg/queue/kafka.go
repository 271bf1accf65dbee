package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

var (
	// ErrKafkaTopicRequired is returned when the topic is empty.
	ErrKafkaTopicRequired = errors.New("pkgqueue: kafka topic is required")
	// ErrKafkaBrokersRequired is returned when no Kafka brokers are configured.
	ErrKafkaBrokersRequired = errors.New("pkgqueue: kafka brokers are required")
	// ErrKafkaGroupRequired is returned when a consumer group is required but not provided.
	ErrKafkaGroupRequired = errors.New("pkgqueue: kafka consumer group is required")
)

// KafkaConfig configures the Kafka implementation.
type KafkaConfig struct {
	// Brokers lists Kafka broker addresses.
	Brokers []string

	// Dialer configures broker connections.
	Dialer *kafka.Dialer
}

// Kafka is a Gateway implementation backed by kafka-go.
type Kafka struct {
	brokers []string
	dialer  *kafka.Dialer

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers map[string]*kafka.Reader
	closed  bool
}

// NewKafka constructs a Kafka gateway.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrKafkaBrokersRequired
	}

	return &Kafka{
		brokers: append([]string{}, cfg.Brokers...),
		dialer:  cfg.Dialer,
		writers: map[string]*kafka.Writer{},
		readers: map[string]*kafka.Reader{},
	}, nil
}

// Close shuts down all Kafka readers and writers.
func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	writers := make([]*kafka.Writer, 0, len(k.writers))
	for _, w := range k.writers {
		writers = append(writers, w)
	}
	k.writers = nil
	readers := make([]*kafka.Reader, 0, len(k.readers))
	for _, r := range k.readers {
		readers = append(readers, r)
	}
	k.readers = nil
	k.mu.Unlock()

	var closeErr error
	for _, r := range readers {
		closeErr = errors.Join(closeErr, r.Close())
	}
	for _, w := range writers {
		closeErr = errors.Join(closeErr, w.Close())
	}
	return closeErr
}

// Publish sends a message to a Kafka topic.
func (k *Kafka) Publish(ctx context.Context, destination string, msg OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if destination == "" {
		return ErrKafkaTopicRequired
	}

	writer, err := k.getWriter(destination)
	if err != nil {
		return err
	}

	kmsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Body,
		Time:  time.Now(),
	}
	for _, h := range msg.Headers {
		if h.Key == "" {
			continue
		}
		kmsg.Headers = append(kmsg.Headers, kafka.Header{
			Key:   h.Key,
			Value: h.Value,
		})
	}

	if err := writer.WriteMessages(ctx, kmsg); err != nil {
		return fmt.Errorf("pkgqueue: kafka publish: %w", err)
	}
	return nil
}

// Consume fetches up to maxMessages from a consumer group reader. Fetching
// stops once the wait window elapses with no further messages.
func (k *Kafka) Consume(ctx context.Context, source string, maxMessages int, opts ...ConsumeOption) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if source == "" {
		return nil, ErrKafkaTopicRequired
	}
	if maxMessages <= 0 {
		return nil, nil
	}

	co := newConsumeOptions(opts...)
	if co.group == "" {
		return nil, ErrKafkaGroupRequired
	}

	reader, err := k.getReader(source, co.group)
	if err != nil {
		return nil, err
	}

	deliveries := make([]Delivery, 0, maxMessages)
	for len(deliveries) < maxMessages {
		fetchCtx, cancel := context.WithTimeout(ctx, co.wait)
		m, err := reader.FetchMessage(fetchCtx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			break
		}
		if err != nil {
			if len(deliveries) > 0 {
				return deliveries, nil
			}
			return nil, fmt.Errorf("pkgqueue: kafka fetch: %w", err)
		}
		deliveries = append(deliveries, newKafkaDelivery(reader, m))
	}

	return deliveries, nil
}

func (k *Kafka) getWriter(topic string) (*kafka.Writer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, io.ErrClosedPipe
	}
	if w, ok := k.writers[topic]; ok {
		return w, nil
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  k.brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
		Dialer:   k.dialer,
	})
	k.writers[topic] = w
	return w, nil
}

func (k *Kafka) getReader(topic, group string) (*kafka.Reader, error) {
	key := topic + "/" + group

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, io.ErrClosedPipe
	}
	if r, ok := k.readers[key]; ok {
		return r, nil
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		GroupID:  group,
		Topic:    topic,
		MaxBytes: 10e6,
		Dialer:   k.dialer,
	})
	k.readers[key] = r
	return r, nil
}
