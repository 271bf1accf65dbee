package queue

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
)

// Memory is an in-process Gateway used by tests and local development.
type Memory struct {
	mu     sync.Mutex
	queues map[string][]*memoryDelivery
	seq    int64
	closed bool
}

// NewMemory constructs an in-process gateway.
func NewMemory() *Memory {
	return &Memory{queues: map[string][]*memoryDelivery{}}
}

// Close marks the gateway closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queues = nil
	return nil
}

// Publish appends a message to the named queue.
func (m *Memory) Publish(ctx context.Context, destination string, msg OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}

	m.seq++
	headers := make([]Header, len(msg.Headers))
	copy(headers, msg.Headers)
	body := make([]byte, len(msg.Body))
	copy(body, msg.Body)

	m.queues[destination] = append(m.queues[destination], &memoryDelivery{
		gateway: m,
		queue:   destination,
		id:      strconv.FormatInt(m.seq, 10),
		body:    body,
		headers: headers,
	})
	return nil
}

// Consume pops up to maxMessages from the named queue.
func (m *Memory) Consume(ctx context.Context, source string, maxMessages int, _ ...ConsumeOption) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxMessages <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, io.ErrClosedPipe
	}

	pending := m.queues[source]
	n := min(maxMessages, len(pending))
	if n == 0 {
		return nil, nil
	}

	out := make([]Delivery, 0, n)
	for _, d := range pending[:n] {
		out = append(out, d)
	}
	m.queues[source] = pending[n:]
	return out, nil
}

func (m *Memory) requeue(d *memoryDelivery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queues[d.queue] = append([]*memoryDelivery{d.clone()}, m.queues[d.queue]...)
}

type memoryDelivery struct {
	gateway *Memory
	queue   string
	id      string
	body    []byte
	headers []Header

	settled atomic.Bool
}

func (d *memoryDelivery) clone() *memoryDelivery {
	return &memoryDelivery{
		gateway: d.gateway,
		queue:   d.queue,
		id:      d.id,
		body:    d.body,
		headers: d.headers,
	}
}

func (d *memoryDelivery) ID() string        { return d.id }
func (d *memoryDelivery) Body() []byte      { return d.body }
func (d *memoryDelivery) Headers() []Header { return d.headers }

func (d *memoryDelivery) Ack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.settled.Store(true)
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.settled.Swap(true) {
		return nil
	}
	d.gateway.requeue(d)
	return nil
}
