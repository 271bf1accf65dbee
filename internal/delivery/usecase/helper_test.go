package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/shandysiswandi/courier/internal/delivery/attachment"
	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/delivery/outbound/provider"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
	"github.com/shandysiswandi/courier/internal/pkg/idempotency"
	"github.com/shandysiswandi/courier/internal/pkg/instrument"
	"github.com/shandysiswandi/courier/internal/pkg/mail"
	"github.com/shandysiswandi/courier/internal/pkg/mimecodec"
	"github.com/shandysiswandi/courier/internal/pkg/queue"
	"github.com/shandysiswandi/courier/internal/pkg/render"
	"github.com/shandysiswandi/courier/internal/pkg/validator"
)

type fakeConfig struct{ values map[string]any }

func (c fakeConfig) Close() error { return nil }
func (c fakeConfig) GetSecond(key string) time.Duration {
	return time.Duration(c.GetInt64(key)) * time.Second
}
func (c fakeConfig) GetMinute(key string) time.Duration {
	return time.Duration(c.GetInt64(key)) * time.Minute
}
func (c fakeConfig) GetHour(key string) time.Duration {
	return time.Duration(c.GetInt64(key)) * time.Hour
}
func (c fakeConfig) GetDay(key string) time.Duration {
	return time.Duration(c.GetInt64(key)) * 24 * time.Hour
}
func (c fakeConfig) GetInt(key string) int     { return int(c.GetInt64(key)) }
func (c fakeConfig) GetInt32(key string) int32 { return int32(c.GetInt64(key)) }
func (c fakeConfig) GetInt64(key string) int64 {
	switch v := c.values[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
func (c fakeConfig) GetUint(key string) uint       { return uint(c.GetInt64(key)) }
func (c fakeConfig) GetUint16(key string) uint16   { return uint16(c.GetInt64(key)) }
func (c fakeConfig) GetUint32(key string) uint32   { return uint32(c.GetInt64(key)) }
func (c fakeConfig) GetUint64(key string) uint64   { return uint64(c.GetInt64(key)) }
func (c fakeConfig) GetFloat32(key string) float32 { return 0 }
func (c fakeConfig) GetFloat64(key string) float64 { return 0 }
func (c fakeConfig) GetBool(key string) bool {
	b, _ := c.values[key].(bool)
	return b
}
func (c fakeConfig) GetString(key string) string {
	s, _ := c.values[key].(string)
	return s
}
func (c fakeConfig) GetBinary(key string) []byte { return nil }
func (c fakeConfig) GetArray(key string) []string {
	a, _ := c.values[key].([]string)
	return a
}
func (c fakeConfig) GetMap(key string) map[string]string {
	m, _ := c.values[key].(map[string]string)
	return m
}

// stubClock is a manually advanced clock.
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqNumberID struct{ n atomic.Int64 }

func (s *seqNumberID) Generate() int64 { return s.n.Add(1) }

type seqStringID struct{ n atomic.Int64 }

func (s *seqStringID) Generate() string { return fmt.Sprintf("uuid-%d", s.n.Add(1)) }

// fakeRepo is an in-memory repoDB mirroring the compare-and-swap semantics of
// the SQL implementation.
type fakeRepo struct {
	mu   sync.Mutex
	byID map[int64]*entity.OutboxMessage
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: map[int64]*entity.OutboxMessage{}}
}

func (r *fakeRepo) put(rec *entity.OutboxMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = rec
}

func (r *fakeRepo) CreateOutbox(_ context.Context, m *entity.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byID {
		if rec.MessageID == m.MessageID {
			return goerror.ErrConflict
		}
	}
	r.byID[m.ID] = m

	return nil
}

func (r *fakeRepo) GetOutbox(_ context.Context, id int64) (*entity.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, goerror.ErrNotFound
	}

	return rec, nil
}

func (r *fakeRepo) GetOutboxByMessageID(_ context.Context, messageID string) (*entity.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byID {
		if rec.MessageID == messageID {
			return rec, nil
		}
	}

	return nil, goerror.ErrNotFound
}

func (r *fakeRepo) ListDueRetries(_ context.Context, now time.Time, limit int32) ([]*entity.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.OutboxMessage
	for _, rec := range r.byID {
		if rec.Status == entity.StatusPending && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now) {
			out = append(out, rec)
		}
		if int32(len(out)) >= limit {
			break
		}
	}

	return out, nil
}

func (r *fakeRepo) ListExpiredClaims(_ context.Context, cutoff time.Time, limit int32) ([]*entity.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.OutboxMessage
	for _, rec := range r.byID {
		if rec.Status == entity.StatusProcessing && rec.ClaimedAt != nil && !rec.ClaimedAt.After(cutoff) {
			out = append(out, rec)
		}
		if int32(len(out)) >= limit {
			break
		}
	}

	return out, nil
}

func (r *fakeRepo) cas(id int64, allowed []entity.Status, apply func(*entity.OutboxMessage)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	for _, st := range allowed {
		if rec.Status == st {
			apply(rec)
			return true, nil
		}
	}

	return false, nil
}

func (r *fakeRepo) MarkQueued(_ context.Context, id int64, queuedAt time.Time) (bool, error) {
	return r.cas(id, []entity.Status{entity.StatusPending}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusQueued
		rec.QueuedAt = &queuedAt
	})
}

func (r *fakeRepo) ClaimProcessing(_ context.Context, id int64, workerID string, at time.Time) (bool, error) {
	return r.cas(id, []entity.Status{entity.StatusPending, entity.StatusQueued}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusProcessing
		rec.ProcessingStartedAt = &at
		rec.ClaimedBy = &workerID
		rec.ClaimedAt = &at
	})
}

func (r *fakeRepo) MarkSent(_ context.Context, id int64, sentAt time.Time, processingTimeMS int64, providerMessageID string) (bool, error) {
	return r.cas(id, []entity.Status{entity.StatusProcessing}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusSent
		rec.SentAt = &sentAt
		rec.ProcessingTimeMS = processingTimeMS
		if providerMessageID != "" {
			rec.ProviderMessageID = &providerMessageID
		}
		rec.ErrorMessage = nil
		rec.NextRetryAt = nil
		rec.ClaimedBy = nil
		rec.ClaimedAt = nil
	})
}

func (r *fakeRepo) MarkDelivered(_ context.Context, messageID string, deliveredAt time.Time) (bool, error) {
	rec, err := r.GetOutboxByMessageID(context.Background(), messageID)
	if err != nil {
		return false, nil
	}

	return r.cas(rec.ID, []entity.Status{entity.StatusSent}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusDelivered
		rec.DeliveredAt = &deliveredAt
	})
}

func (r *fakeRepo) MarkFailed(_ context.Context, id int64, errorMessage string) (bool, error) {
	return r.cas(id, []entity.Status{entity.StatusProcessing}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusFailed
		rec.ErrorMessage = &errorMessage
		rec.NextRetryAt = nil
		rec.ClaimedBy = nil
		rec.ClaimedAt = nil
	})
}

func (r *fakeRepo) MarkBounced(_ context.Context, id int64, bounceReason string) (bool, error) {
	return r.cas(id, []entity.Status{entity.StatusProcessing, entity.StatusSent}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusBounced
		rec.BounceReason = &bounceReason
		rec.NextRetryAt = nil
		rec.ClaimedBy = nil
		rec.ClaimedAt = nil
	})
}

func (r *fakeRepo) ScheduleRetry(_ context.Context, id int64, retryCount int32, nextRetryAt time.Time, errorMessage string) (bool, error) {
	return r.cas(id, []entity.Status{entity.StatusProcessing}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusPending
		rec.RetryCount = retryCount
		rec.NextRetryAt = &nextRetryAt
		rec.ErrorMessage = &errorMessage
		rec.ClaimedBy = nil
		rec.ClaimedAt = nil
	})
}

func (r *fakeRepo) RequeueOutbox(_ context.Context, id int64, expected entity.Status, retryCount int32) (bool, error) {
	return r.cas(id, []entity.Status{expected}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusPending
		rec.RetryCount = retryCount
		rec.Source = entity.SourceRequeue
		rec.OriginalOutboxID = &rec.ID
		rec.NextRetryAt = nil
		rec.BounceReason = nil
		rec.ErrorMessage = nil
		rec.ClaimedBy = nil
		rec.ClaimedAt = nil
	})
}

func (r *fakeRepo) ReleaseClaim(_ context.Context, id int64, cutoff time.Time) (bool, error) {
	r.mu.Lock()
	rec, ok := r.byID[id]
	if !ok || rec.Status != entity.StatusProcessing || rec.ClaimedAt == nil || rec.ClaimedAt.After(cutoff) {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	return r.cas(id, []entity.Status{entity.StatusProcessing}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusQueued
		rec.ClaimedBy = nil
		rec.ClaimedAt = nil
	})
}

func (r *fakeRepo) ApplyCorrection(_ context.Context, id int64, expected entity.Status, to, cc, bcc []string, corrections []entity.Correction) (bool, error) {
	return r.cas(id, []entity.Status{expected}, func(rec *entity.OutboxMessage) {
		rec.Status = entity.StatusPending
		rec.To = to
		rec.Cc = cc
		rec.Bcc = bcc
		rec.Corrections = corrections
		rec.RetryCount = 0
		rec.BounceReason = nil
		rec.ErrorMessage = nil
		rec.NextRetryAt = nil
	})
}

// fakeMailProvider records sends and returns a scripted outcome.
type fakeMailProvider struct {
	mu       sync.Mutex
	messages []mail.Message
	errs     []error
	calls    int
}

func (p *fakeMailProvider) failWith(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = errs
}

func (p *fakeMailProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeMailProvider) lastMessage() mail.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		return mail.Message{}
	}
	return p.messages[len(p.messages)-1]
}

func (p *fakeMailProvider) Send(_ context.Context, msg mail.Message) (mail.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.messages = append(p.messages, msg)

	if len(p.errs) > 0 {
		err := p.errs[0]
		if len(p.errs) > 1 {
			p.errs = p.errs[1:]
		}
		if err != nil {
			return mail.SendResult{}, err
		}
	}

	return mail.SendResult{ProviderMessageID: fmt.Sprintf("provider-msg-%d", p.calls)}, nil
}

func (p *fakeMailProvider) Close() error { return nil }

type fakeFetcher struct {
	res  attachment.FetchResult
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL, _ string) (attachment.FetchResult, error) {
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return attachment.FetchResult{}, f.err
	}
	return f.res, nil
}

type storedObject struct {
	data        []byte
	contentType string
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
	seq     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]storedObject{}}
}

func (s *fakeStore) Save(_ context.Context, data []byte, filename, mimeType, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	key := fmt.Sprintf("attachments/%s/%d-%s", ownerID, s.seq, filename)
	s.objects[key] = storedObject{data: data, contentType: mimeType}

	return key, nil
}

func (s *fakeStore) Load(_ context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, "", errors.New("object not found")
	}

	return obj.data, obj.contentType, nil
}

// fakeDedup reports a duplicate for any key it has seen before.
type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: map[string]bool{}}
}

func (d *fakeDedup) Exec(ctx context.Context, key string, fn func(context.Context) error, _ ...idempotency.Option) error {
	d.mu.Lock()
	if d.seen[key] {
		d.mu.Unlock()
		return idempotency.ErrAlreadyCompleted
	}
	d.seen[key] = true
	d.mu.Unlock()

	return fn(ctx)
}

type testEnv struct {
	uc       *Usecase
	repo     *fakeRepo
	gateway  *queue.Memory
	provider *fakeMailProvider
	fetcher  *fakeFetcher
	store    *fakeStore
	clock    *stubClock
	uid      *seqNumberID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	v10, err := validator.NewV10Validator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	mailProvider := &fakeMailProvider{}
	registry := provider.NewRegistry()
	if err := registry.Register(provider.New("smtp-main", mailProvider, instrument.NewNoop())); err != nil {
		t.Fatalf("register provider: %v", err)
	}

	templates := fstest.MapFS{
		"welcome.subject": {Data: []byte("Welcome, {{.name}}!")},
		"welcome.html":    {Data: []byte("<p>Hello {{.name}}</p>")},
		"welcome.txt":     {Data: []byte("Hello {{.name}}")},
	}

	clk := newStubClock()
	env := &testEnv{
		repo:     newFakeRepo(),
		gateway:  queue.NewMemory(),
		provider: mailProvider,
		fetcher:  &fakeFetcher{},
		store:    newFakeStore(),
		clock:    clk,
		uid:      &seqNumberID{},
	}

	env.uc = NewDelivery(Dependency{
		RepoDB:    env.repo,
		Gateway:   env.gateway,
		Providers: registry,
		Renderer:  render.NewFS(templates),
		Fetcher:   env.fetcher,
		Store:     env.store,
		Codec:     mimecodec.New(mimecodec.WithClock(clk)),
		Dedup:     newFakeDedup(),
		Config: fakeConfig{values: map[string]any{
			"modules.delivery.retry.max_attempts":         3,
			"modules.delivery.retry.base_backoff_seconds": 30,
			"modules.delivery.retry.max_backoff_seconds":  3600,
			"modules.delivery.claim_ttl_minutes":          5,
			"modules.delivery.default_provider":           "smtp-main",
		}},
		UID:        env.uid,
		UUID:       &seqStringID{},
		Clock:      clk,
		Validator:  v10,
		Instrument: instrument.NewNoop(),
		WorkerID:   "worker-test-1",
	})

	return env
}

// seedOutbox stores a ready-to-send record and returns it.
func (e *testEnv) seedOutbox(status entity.Status) *entity.OutboxMessage {
	body := "plain text body"
	rec := &entity.OutboxMessage{
		ID:          e.uid.Generate(),
		MessageID:   fmt.Sprintf("msg-%d", e.uid.Generate()),
		TenantID:    "tenant-a",
		ProviderID:  "smtp-main",
		From:        "noreply@example.com",
		To:          []string{"alice@example.com"},
		Subject:     "Monthly report",
		BodyFormat:  entity.BodyFormatText,
		BodyContent: &body,
		Status:      status,
		Source:      entity.SourceAPI,
		CreatedAt:   e.clock.Now(),
		UpdatedAt:   e.clock.Now(),
	}
	e.repo.put(rec)

	return rec
}

// publishSendPayload puts the record's send payload on the in-memory queue.
func (e *testEnv) publishSendPayload(t *testing.T, rec *entity.OutboxMessage) {
	t.Helper()

	if err := e.uc.publishSend(context.Background(), sendMessageFromOutbox(rec, e.clock.Now())); err != nil {
		t.Fatalf("publish send payload: %v", err)
	}
}
