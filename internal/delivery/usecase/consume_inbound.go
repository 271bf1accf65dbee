package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
	"github.com/shandysiswandi/courier/internal/pkg/mimecodec"
	"github.com/shandysiswandi/courier/internal/pkg/queue"
	"github.com/shandysiswandi/courier/internal/shared/event"
)

// ConsumeInbound pulls raw inbound emails from the intake queue. Bounce
// reports are matched back to their outbox record; everything else is parsed
// and re-entered into the pipeline as a forwarded delivery.
func (s *Usecase) ConsumeInbound(ctx context.Context, maxMessages int) (int, error) {
	ctx, span := s.startSpan(ctx, "ConsumeInbound")
	defer span.End()

	deliveries, err := s.gateway.Consume(ctx, event.EmailInboundDestination, maxMessages,
		queue.WithGroup(event.EmailInboundConsumerDelivery),
		queue.WithDurable(event.EmailInboundConsumerDelivery),
		queue.WithConsumerName(s.workerID),
	)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, d := range deliveries {
		if err := s.processInbound(ctx, d); err != nil {
			slog.ErrorContext(ctx, "failed to process inbound email", "broker_message_id", d.ID(), "error", err)
			if nackErr := d.Nack(ctx); nackErr != nil {
				slog.ErrorContext(ctx, "failed to nack inbound email", "broker_message_id", d.ID(), "error", nackErr)
			}
			continue
		}

		if ackErr := d.Ack(ctx); ackErr != nil {
			slog.ErrorContext(ctx, "failed to ack inbound email", "broker_message_id", d.ID(), "error", ackErr)
		}
		processed++
	}

	return processed, nil
}

func (s *Usecase) processInbound(ctx context.Context, d queue.Delivery) error {
	ctx = s.ensureCorrelationID(ctx, d.Headers())

	var msg event.EmailInboundMessage
	if err := json.Unmarshal(d.Body(), &msg); err != nil || len(msg.Raw) == 0 {
		slog.ErrorContext(ctx, "dropping malformed inbound email message", "broker_message_id", d.ID(), "error", err)
		return nil
	}

	parsed, err := s.codec.Parse(msg.Raw)
	if err != nil {
		// Parse failures are permanent; redelivery cannot fix the bytes.
		slog.ErrorContext(ctx, "dropping unparseable inbound email", "broker_message_id", d.ID(), "error", err)
		return nil
	}

	if ref := parsed.Headers.Get(messageIDHeader); ref != "" && parsed.Headers.Get(failedRecipientsHeader) != "" {
		return s.recordInboundBounce(ctx, ref, parsed)
	}

	return s.forwardInbound(ctx, msg.TenantID, msg.Raw, parsed)
}

// recordInboundBounce marks the referenced outbox record as bounced based on
// a bounce report email.
func (s *Usecase) recordInboundBounce(ctx context.Context, messageID string, parsed *mimecodec.ParsedEmail) error {
	rec, err := s.repoDB.GetOutboxByMessageID(ctx, messageID)
	if errors.Is(err, goerror.ErrNotFound) {
		slog.WarnContext(ctx, "bounce report references unknown message", "message_id", messageID)
		return nil
	}
	if err != nil {
		return err
	}

	reason := fmt.Sprintf("recipient bounced: %s", parsed.Headers.Get(failedRecipientsHeader))

	ok, err := s.repoDB.MarkBounced(ctx, rec.ID, reason)
	if err != nil {
		return err
	}
	if !ok {
		slog.InfoContext(ctx, "bounce report ignored, message already settled terminally", "message_id", messageID, "status", rec.Status.String())
		return nil
	}

	slog.WarnContext(ctx, "email bounced after acceptance", "message_id", messageID, "reason", reason)
	s.publishStatus(ctx, rec, entity.StatusBounced, "", "", reason)

	return nil
}

// forwardInbound turns a parsed inbound email into a new outbox record and
// queues it for delivery. Attachment content is moved to object storage so
// the queue payload stays small. The message ID is derived from the raw bytes
// so a redelivered intake message resumes the same record instead of creating
// a duplicate.
func (s *Usecase) forwardInbound(ctx context.Context, tenantID string, raw []byte, parsed *mimecodec.ParsedEmail) error {
	if parsed.From == "" || len(parsed.To) == 0 {
		slog.WarnContext(ctx, "dropping inbound email without sender or recipients", "subject", parsed.Subject)
		return nil
	}

	sum := sha256.Sum256(raw)

	rec := &entity.OutboxMessage{
		ID:         s.uid.Generate(),
		MessageID:  "inbound-" + hex.EncodeToString(sum[:16]),
		TenantID:   tenantID,
		ProviderID: s.defaultProvider,
		From:       parsed.From,
		To:         parsed.To,
		Cc:         parsed.Cc,
		Subject:    parsed.Subject,
		Status:     entity.StatusPending,
		Source:     entity.SourceQueue,
	}

	switch {
	case parsed.HTMLContent != "":
		rec.BodyFormat = entity.BodyFormatHTML
		body := parsed.HTMLContent
		rec.BodyContent = &body
	case parsed.TextContent != "":
		rec.BodyFormat = entity.BodyFormatText
		body := parsed.TextContent
		rec.BodyContent = &body
	default:
		slog.WarnContext(ctx, "dropping inbound email without body", "subject", parsed.Subject)
		return nil
	}

	for _, att := range parsed.Attachments {
		key, err := s.store.Save(ctx, att.Content, att.Filename, att.ContentType, tenantID)
		if err != nil {
			return err
		}
		rec.Attachments = append(rec.Attachments, entity.AttachmentRef{
			StorageKey: key,
			Filename:   att.Filename,
			MimeType:   att.ContentType,
			Origin:     entity.AttachmentOriginEmbedded,
			Size:       int64(len(att.Content)),
		})
	}

	err := s.repoDB.CreateOutbox(ctx, rec)
	if errors.Is(err, goerror.ErrConflict) {
		existing, getErr := s.repoDB.GetOutboxByMessageID(ctx, rec.MessageID)
		if getErr != nil {
			return getErr
		}
		if existing.Status != entity.StatusPending {
			return nil
		}
		rec = existing
	} else if err != nil {
		return err
	}

	if err := s.publishSend(ctx, sendMessageFromOutbox(rec, s.clock.Now())); err != nil {
		return err
	}

	if _, err := s.repoDB.MarkQueued(ctx, rec.ID, s.clock.Now()); err != nil {
		return err
	}

	slog.InfoContext(ctx, "inbound email queued for delivery", "message_id", rec.MessageID, "tenant_id", tenantID)

	return nil
}
