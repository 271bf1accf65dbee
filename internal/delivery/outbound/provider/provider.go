package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shandysiswandi/courier/internal/pkg/instrument"
	"github.com/shandysiswandi/courier/internal/pkg/mail"
	"go.opentelemetry.io/otel/codes"
)

// ErrUnknownProvider is returned when no provider matches the requested ID.
var ErrUnknownProvider = errors.New("provider: unknown provider id")

// Sender wraps a mail.Provider with tracing around each delivery.
type Sender struct {
	id     string
	client mail.Provider
	ins    instrument.Instrumentation
}

func New(id string, client mail.Provider, ins instrument.Instrumentation) *Sender {
	return &Sender{id: id, client: client, ins: ins}
}

// ID returns the configured provider identifier.
func (s *Sender) ID() string {
	return s.id
}

func (s *Sender) Send(ctx context.Context, msg mail.Message) (mail.SendResult, error) {
	ctx, span := s.ins.Tracer("delivery.outbound.provider").Start(ctx, "Send")
	defer span.End()

	res, err := s.client.Send(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return mail.SendResult{}, err
	}

	return res, nil
}

func (s *Sender) Close() error {
	return s.client.Close()
}

// Registry resolves provider IDs to configured senders. Providers register
// once at startup; the set is immutable afterwards from the caller's side.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]*Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: map[string]*Sender{}}
}

// Register adds a sender under its provider ID. Registering the same ID twice
// is an error so configuration mistakes surface at startup.
func (r *Registry) Register(s *Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.senders[s.ID()]; exists {
		return fmt.Errorf("provider: duplicate provider id %q", s.ID())
	}
	r.senders[s.ID()] = s

	return nil
}

// Resolve returns the sender for the provider ID.
func (r *Registry) Resolve(providerID string) (*Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.senders[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}

	return s, nil
}

// Close closes every registered sender and reports the first failure.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, s := range r.senders {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
