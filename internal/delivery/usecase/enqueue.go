package usecase

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
	"github.com/shandysiswandi/courier/internal/pkg/idempotency"
)

// EnqueueAttachment references attachment content to fetch at delivery time.
type EnqueueAttachment struct {
	URL      string `validate:"omitempty,url"`
	Content  []byte
	Filename string `validate:"required"`
	MimeType string
}

type EnqueueInput struct {
	// MessageID is the caller-supplied idempotency key. Generated when empty.
	MessageID    string
	TenantID     string   `validate:"required"`
	ProviderID   string   `validate:"omitempty"`
	From         string   `validate:"required,email"`
	To           []string `validate:"required,min=1,emailaddrs"`
	Cc           []string `validate:"omitempty,emailaddrs"`
	Bcc          []string `validate:"omitempty,emailaddrs"`
	Subject      string   `validate:"required"`
	BodyFormat   string
	BodyContent  string
	TemplateID   string
	TemplateData map[string]any
	Attachments  []EnqueueAttachment
}

type EnqueueOutput struct {
	MessageID string
	Status    string
}

// Enqueue accepts a delivery request, persists it as a pending outbox record
// and publishes it to the send queue. Repeated calls with the same message ID
// return the current state of the original record.
func (s *Usecase) Enqueue(ctx context.Context, in EnqueueInput) (*EnqueueOutput, error) {
	ctx, span := s.startSpan(ctx, "Enqueue")
	defer span.End()

	if err := s.validate(in); err != nil {
		return nil, err
	}
	if in.BodyContent == "" && in.TemplateID == "" {
		return nil, goerror.NewValidation("either body_content or template_id is required")
	}

	format := entity.BodyFormatFromString(in.BodyFormat)
	if in.BodyContent != "" && format == entity.BodyFormatUnknown {
		if in.BodyFormat != "" {
			return nil, goerror.NewValidation("body_format must be text or html", "body_format", in.BodyFormat)
		}
		format = entity.BodyFormatText
	}

	messageID := in.MessageID
	if messageID == "" {
		messageID = s.uuid.Generate()
	}

	rec := s.outboxFromEnqueue(in, messageID, format)

	err := s.dedup.Exec(ctx, "enqueue:"+messageID, func(ctx context.Context) error {
		return s.repoDB.CreateOutbox(ctx, rec)
	})
	if isDuplicateEnqueue(err) {
		existing, getErr := s.repoDB.GetOutboxByMessageID(ctx, messageID)
		if getErr != nil {
			return nil, getErr
		}

		return &EnqueueOutput{MessageID: existing.MessageID, Status: existing.Status.String()}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.publishSend(ctx, sendMessageFromOutbox(rec, s.clock.Now())); err != nil {
		// The record stays pending; a later Requeue can pick it up.
		return nil, err
	}

	status := entity.StatusPending
	ok, err := s.repoDB.MarkQueued(ctx, rec.ID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if ok {
		status = entity.StatusQueued
	}

	return &EnqueueOutput{MessageID: messageID, Status: status.String()}, nil
}

func isDuplicateEnqueue(err error) bool {
	return errors.Is(err, idempotency.ErrAlreadyInProgress) ||
		errors.Is(err, idempotency.ErrAlreadyCompleted) ||
		errors.Is(err, idempotency.ErrAlreadyFailed) ||
		errors.Is(err, goerror.ErrConflict)
}

func (s *Usecase) outboxFromEnqueue(in EnqueueInput, messageID string, format entity.BodyFormat) *entity.OutboxMessage {
	providerID := in.ProviderID
	if providerID == "" {
		providerID = s.defaultProvider
	}

	rec := &entity.OutboxMessage{
		ID:         s.uid.Generate(),
		MessageID:  messageID,
		TenantID:   in.TenantID,
		ProviderID: providerID,
		From:       in.From,
		To:         in.To,
		Cc:         in.Cc,
		Bcc:        in.Bcc,
		Subject:    in.Subject,
		BodyFormat: format,
		Status:     entity.StatusPending,
		Source:     entity.SourceAPI,
	}

	if in.BodyContent != "" {
		body := in.BodyContent
		rec.BodyContent = &body
	}
	if in.TemplateID != "" {
		tpl := in.TemplateID
		rec.TemplateID = &tpl
	}
	if len(in.TemplateData) > 0 {
		rec.TemplateData = in.TemplateData
	}
	if len(in.Attachments) > 0 {
		rec.Attachments = lo.Map(in.Attachments, func(a EnqueueAttachment, _ int) entity.AttachmentRef {
			ref := entity.AttachmentRef{
				URL:      a.URL,
				Content:  a.Content,
				Filename: a.Filename,
				MimeType: a.MimeType,
				Origin:   entity.AttachmentOriginFetchedURL,
			}
			if len(a.Content) > 0 {
				ref.Origin = entity.AttachmentOriginEmbedded
				ref.Size = int64(len(a.Content))
			}

			return ref
		})
	}

	return rec
}
