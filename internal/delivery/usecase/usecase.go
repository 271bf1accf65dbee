package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shandysiswandi/courier/internal/delivery/attachment"
	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/delivery/outbound/provider"
	"github.com/shandysiswandi/courier/internal/pkg/clock"
	"github.com/shandysiswandi/courier/internal/pkg/config"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
	"github.com/shandysiswandi/courier/internal/pkg/idempotency"
	"github.com/shandysiswandi/courier/internal/pkg/instrument"
	"github.com/shandysiswandi/courier/internal/pkg/mimecodec"
	"github.com/shandysiswandi/courier/internal/pkg/queue"
	"github.com/shandysiswandi/courier/internal/pkg/render"
	"github.com/shandysiswandi/courier/internal/pkg/uid"
	"github.com/shandysiswandi/courier/internal/pkg/validator"
	"github.com/shandysiswandi/courier/internal/shared/event"
	"go.opentelemetry.io/otel/trace"
)

// correlationIDHeader carries the correlation ID across queue hops.
const correlationIDHeader = "correlation_id"

// messageIDHeader tags outgoing emails so bounce reports can be matched back
// to their outbox record.
const messageIDHeader = "X-Courier-Message-Id"

// failedRecipientsHeader marks an inbound message as a bounce report.
const failedRecipientsHeader = "X-Failed-Recipients"

type repoDB interface {
	CreateOutbox(ctx context.Context, m *entity.OutboxMessage) error
	GetOutbox(ctx context.Context, id int64) (*entity.OutboxMessage, error)
	GetOutboxByMessageID(ctx context.Context, messageID string) (*entity.OutboxMessage, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int32) ([]*entity.OutboxMessage, error)
	ListExpiredClaims(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.OutboxMessage, error)

	MarkQueued(ctx context.Context, id int64, queuedAt time.Time) (bool, error)
	ClaimProcessing(ctx context.Context, id int64, workerID string, at time.Time) (bool, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time, processingTimeMS int64, providerMessageID string) (bool, error)
	MarkDelivered(ctx context.Context, messageID string, deliveredAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error)
	MarkBounced(ctx context.Context, id int64, bounceReason string) (bool, error)
	ScheduleRetry(ctx context.Context, id int64, retryCount int32, nextRetryAt time.Time, errorMessage string) (bool, error)
	RequeueOutbox(ctx context.Context, id int64, expected entity.Status, retryCount int32) (bool, error)
	ReleaseClaim(ctx context.Context, id int64, cutoff time.Time) (bool, error)
	ApplyCorrection(ctx context.Context, id int64, expected entity.Status, to, cc, bcc []string, corrections []entity.Correction) (bool, error)
}

type queueGateway interface {
	Publish(ctx context.Context, destination string, msg queue.OutgoingMessage) error
	Consume(ctx context.Context, source string, maxMessages int, opts ...queue.ConsumeOption) ([]queue.Delivery, error)
}

type providerRegistry interface {
	Resolve(providerID string) (*provider.Sender, error)
}

type attachmentFetcher interface {
	Fetch(ctx context.Context, rawURL, declaredType string) (attachment.FetchResult, error)
}

type attachmentStore interface {
	Save(ctx context.Context, data []byte, filename, mimeType, ownerID string) (string, error)
	Load(ctx context.Context, key string) ([]byte, string, error)
}

type mimeCodec interface {
	Parse(raw []byte) (*mimecodec.ParsedEmail, error)
	Build(in mimecodec.BuildInput) ([]byte, error)
}

type dedup interface {
	Exec(ctx context.Context, key string, fn func(context.Context) error, opts ...idempotency.Option) error
}

type Usecase struct {
	repoDB    repoDB
	gateway   queueGateway
	providers providerRegistry
	renderer  render.Renderer
	fetcher   attachmentFetcher
	store     attachmentStore
	codec     mimeCodec
	dedup     dedup
	cfg       config.Config
	uid       uid.NumberID
	uuid      uid.StringID
	clock     clock.Clocker
	validator validator.Validator
	ins       instrument.Instrumentation

	workerID        string
	defaultProvider string
	retryPolicy     entity.RetryPolicy
	claimTTL        time.Duration
}

type Dependency struct {
	RepoDB     repoDB
	Gateway    queueGateway
	Providers  providerRegistry
	Renderer   render.Renderer
	Fetcher    attachmentFetcher
	Store      attachmentStore
	Codec      mimeCodec
	Dedup      dedup
	Config     config.Config
	UID        uid.NumberID
	UUID       uid.StringID
	Clock      clock.Clocker
	Validator  validator.Validator
	Instrument instrument.Instrumentation
	WorkerID   string
}

func NewDelivery(dep Dependency) *Usecase {
	policy := entity.RetryPolicy{
		MaxAttempts: dep.Config.GetInt32("modules.delivery.retry.max_attempts"),
		BaseBackoff: dep.Config.GetSecond("modules.delivery.retry.base_backoff_seconds"),
		MaxBackoff:  dep.Config.GetSecond("modules.delivery.retry.max_backoff_seconds"),
	}.Clamp()

	claimTTL := dep.Config.GetMinute("modules.delivery.claim_ttl_minutes")
	if claimTTL <= 0 {
		claimTTL = 5 * time.Minute
	}

	return &Usecase{
		repoDB:          dep.RepoDB,
		gateway:         dep.Gateway,
		providers:       dep.Providers,
		renderer:        dep.Renderer,
		fetcher:         dep.Fetcher,
		store:           dep.Store,
		codec:           dep.Codec,
		dedup:           dep.Dedup,
		cfg:             dep.Config,
		uid:             dep.UID,
		uuid:            dep.UUID,
		clock:           dep.Clock,
		validator:       dep.Validator,
		ins:             dep.Instrument,
		workerID:        dep.WorkerID,
		defaultProvider: dep.Config.GetString("modules.delivery.default_provider"),
		retryPolicy:     policy,
		claimTTL:        claimTTL,
	}
}

func (s *Usecase) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.ins.Tracer("delivery.usecase").Start(ctx, name)
}

func (s *Usecase) validate(in any) error {
	err := s.validator.Validate(in)
	if err == nil {
		return nil
	}

	var vErr validator.V10ValidationError
	if errors.As(err, &vErr) {
		kv := make([]string, 0, len(vErr)*2)
		for field, msg := range vErr.Values() {
			kv = append(kv, field, msg)
		}
		return goerror.NewValidation("invalid request", kv...)
	}

	return goerror.NewValidation(err.Error())
}

// ensureCorrelationID restores the correlation ID from queue headers or
// generates a fresh one for this processing hop.
func (s *Usecase) ensureCorrelationID(ctx context.Context, headers []queue.Header) context.Context {
	for _, h := range headers {
		if h.Key == correlationIDHeader && len(h.Value) > 0 {
			return instrument.SetCorrelationID(ctx, string(h.Value))
		}
	}

	return instrument.SetCorrelationID(ctx, s.uuid.Generate())
}

// backoffFor returns the delay before the given attempt number, growing
// exponentially from the policy base and clamped to the policy cap. No jitter,
// so retry timing stays deterministic and testable.
func (s *Usecase) backoffFor(retryCount int32) time.Duration {
	b := retry.WithCappedDuration(s.retryPolicy.MaxBackoff, retry.NewExponential(s.retryPolicy.BaseBackoff))

	var d time.Duration
	for i := int32(0); i < retryCount; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}

	return d
}

func (s *Usecase) publishSend(ctx context.Context, msg event.EmailSendMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return goerror.NewServer(err)
	}

	out := queue.OutgoingMessage{Body: body, Key: []byte(msg.MessageID)}
	if cid := instrument.GetCorrelationID(ctx); cid != "" {
		out.Headers = append(out.Headers, queue.Header{Key: correlationIDHeader, Value: []byte(cid)})
	}

	return s.gateway.Publish(ctx, event.EmailSendDestination, out)
}

// publishStatus announces a lifecycle change to downstream consumers. Status
// events are best effort; a publish failure never rolls back the transition.
func (s *Usecase) publishStatus(ctx context.Context, rec *entity.OutboxMessage, status entity.Status, providerMessageID, errorMessage, bounceReason string) {
	payload := event.EmailStatusMessage{
		MessageID:         rec.MessageID,
		TenantID:          rec.TenantID,
		Status:            status.String(),
		ProviderMessageID: providerMessageID,
		ErrorMessage:      errorMessage,
		BounceReason:      bounceReason,
		Timestamp:         s.clock.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal email status event", "message_id", rec.MessageID, "error", err)
		return
	}

	err = s.gateway.Publish(ctx, event.EmailStatusDestination, queue.OutgoingMessage{Body: body, Key: []byte(rec.MessageID)})
	if err != nil {
		slog.ErrorContext(ctx, "failed to publish email status event", "message_id", rec.MessageID, "status", status.String(), "error", err)
	}
}

// sendMessageFromOutbox builds the queue payload for a persisted record.
func sendMessageFromOutbox(rec *entity.OutboxMessage, now time.Time) event.EmailSendMessage {
	msg := event.EmailSendMessage{
		MessageID:  rec.MessageID,
		TenantID:   rec.TenantID,
		ProviderID: rec.ProviderID,
		From:       rec.From,
		To:         rec.To,
		Cc:         rec.Cc,
		Bcc:        rec.Bcc,
		Subject:    rec.Subject,
		BodyFormat: rec.BodyFormat.String(),
		Source:     rec.Source.String(),
		RetryCount: rec.RetryCount,
		Timestamp:  now.UTC().Format(time.RFC3339),
	}

	if rec.BodyContent != nil {
		msg.BodyContent = *rec.BodyContent
	}
	if rec.TemplateID != nil {
		msg.TemplateID = *rec.TemplateID
	}
	if len(rec.TemplateData) > 0 {
		msg.TemplateData = rec.TemplateData
	}
	if rec.OriginalOutboxID != nil {
		msg.OriginalOutboxID = *rec.OriginalOutboxID
	}
	for _, a := range rec.Attachments {
		msg.Attachments = append(msg.Attachments, event.EmailSendAttachment{
			URL:        a.URL,
			StorageKey: a.StorageKey,
			Filename:   a.Filename,
			MimeType:   a.MimeType,
		})
	}

	return msg
}

// outboxFromSendMessage materializes an outbox record for a queue payload that
// has no persisted counterpart, such as messages published by other services.
func (s *Usecase) outboxFromSendMessage(msg event.EmailSendMessage) *entity.OutboxMessage {
	rec := &entity.OutboxMessage{
		ID:         s.uid.Generate(),
		MessageID:  msg.MessageID,
		TenantID:   msg.TenantID,
		ProviderID: msg.ProviderID,
		From:       msg.From,
		To:         msg.To,
		Cc:         msg.Cc,
		Bcc:        msg.Bcc,
		Subject:    msg.Subject,
		BodyFormat: entity.BodyFormatFromString(msg.BodyFormat),
		Status:     entity.StatusPending,
		Source:     entity.SourceQueue,
		RetryCount: msg.RetryCount,
	}

	if src := entity.SourceFromString(msg.Source); src != entity.SourceUnknown {
		rec.Source = src
	}
	if msg.BodyContent != "" {
		rec.BodyContent = &msg.BodyContent
	}
	if msg.TemplateID != "" {
		rec.TemplateID = &msg.TemplateID
	}
	if len(msg.TemplateData) > 0 {
		rec.TemplateData = msg.TemplateData
	}
	if msg.OriginalOutboxID != 0 {
		rec.OriginalOutboxID = &msg.OriginalOutboxID
	}
	for _, a := range msg.Attachments {
		origin := entity.AttachmentOriginFetchedURL
		if a.URL == "" {
			origin = entity.AttachmentOriginEmbedded
		}
		rec.Attachments = append(rec.Attachments, entity.AttachmentRef{
			URL:        a.URL,
			StorageKey: a.StorageKey,
			Filename:   a.Filename,
			MimeType:   a.MimeType,
			Origin:     origin,
		})
	}

	return rec
}
