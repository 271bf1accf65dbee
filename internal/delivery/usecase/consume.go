package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
	"github.com/shandysiswandi/courier/internal/pkg/mail"
	"github.com/shandysiswandi/courier/internal/pkg/mimecodec"
	"github.com/shandysiswandi/courier/internal/pkg/queue"
	"github.com/shandysiswandi/courier/internal/pkg/render"
	"github.com/shandysiswandi/courier/internal/shared/event"
)

// Consume pulls up to maxMessages send requests from the queue and processes
// each one. Malformed payloads and lost claim races are acked and dropped;
// classified delivery failures are persisted and acked; only infrastructure
// errors leave the message unacked for redelivery. One bad message never
// aborts the batch.
func (s *Usecase) Consume(ctx context.Context, maxMessages int) (int, error) {
	ctx, span := s.startSpan(ctx, "Consume")
	defer span.End()

	deliveries, err := s.gateway.Consume(ctx, event.EmailSendDestination, maxMessages,
		queue.WithGroup(event.EmailSendConsumerDelivery),
		queue.WithDurable(event.EmailSendConsumerDelivery),
		queue.WithConsumerName(s.workerID),
	)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, d := range deliveries {
		if err := s.processDelivery(ctx, d); err != nil {
			slog.ErrorContext(ctx, "failed to process email send message", "broker_message_id", d.ID(), "error", err)
			if nackErr := d.Nack(ctx); nackErr != nil {
				slog.ErrorContext(ctx, "failed to nack email send message", "broker_message_id", d.ID(), "error", nackErr)
			}
			continue
		}

		if ackErr := d.Ack(ctx); ackErr != nil {
			slog.ErrorContext(ctx, "failed to ack email send message", "broker_message_id", d.ID(), "error", ackErr)
		}
		processed++
	}

	return processed, nil
}

func (s *Usecase) processDelivery(ctx context.Context, d queue.Delivery) error {
	ctx = s.ensureCorrelationID(ctx, d.Headers())

	var msg event.EmailSendMessage
	if err := json.Unmarshal(d.Body(), &msg); err != nil || msg.MessageID == "" {
		slog.ErrorContext(ctx, "dropping malformed email send message", "broker_message_id", d.ID(), "error", err)
		return nil
	}

	rec, err := s.repoDB.GetOutboxByMessageID(ctx, msg.MessageID)
	if errors.Is(err, goerror.ErrNotFound) {
		rec, err = s.materializeOutbox(ctx, msg)
	}
	if err != nil {
		return err
	}

	if rec.Status.Settled() {
		slog.InfoContext(ctx, "skipping settled email", "message_id", rec.MessageID, "status", rec.Status.String())
		return nil
	}

	startedAt := s.clock.Now()
	ok, err := s.repoDB.ClaimProcessing(ctx, rec.ID, s.workerID, startedAt)
	if err != nil {
		return err
	}
	if !ok {
		slog.InfoContext(ctx, "email claimed elsewhere", "message_id", rec.MessageID)
		return nil
	}

	providerMessageID, deliverErr := s.deliver(ctx, rec)
	if deliverErr != nil {
		return s.handleDeliveryFailure(ctx, rec, deliverErr)
	}

	sentAt := s.clock.Now()
	elapsedMS := sentAt.Sub(startedAt).Milliseconds()
	if elapsedMS < 0 {
		elapsedMS = 0
	}

	if _, err := s.repoDB.MarkSent(ctx, rec.ID, sentAt, elapsedMS, providerMessageID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "email sent",
		"message_id", rec.MessageID,
		"provider_id", rec.ProviderID,
		"provider_message_id", providerMessageID,
		"processing_time_ms", elapsedMS,
	)
	s.publishStatus(ctx, rec, entity.StatusSent, providerMessageID, "", "")

	return nil
}

// materializeOutbox creates an outbox record for a payload published by
// another service directly to the queue.
func (s *Usecase) materializeOutbox(ctx context.Context, msg event.EmailSendMessage) (*entity.OutboxMessage, error) {
	rec := s.outboxFromSendMessage(msg)

	err := s.repoDB.CreateOutbox(ctx, rec)
	if errors.Is(err, goerror.ErrConflict) {
		// Another worker created it between our lookup and insert.
		return s.repoDB.GetOutboxByMessageID(ctx, msg.MessageID)
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// deliver renders, encodes and hands the message to its provider. Errors come
// back classified so handleDeliveryFailure can route them.
func (s *Usecase) deliver(ctx context.Context, rec *entity.OutboxMessage) (string, error) {
	subject, text, html, err := s.resolveContent(ctx, rec)
	if err != nil {
		return "", err
	}

	attachments, err := s.resolveAttachments(ctx, rec)
	if err != nil {
		return "", err
	}

	raw, err := s.codec.Build(mimecodec.BuildInput{
		From:        rec.From,
		To:          rec.To,
		Cc:          rec.Cc,
		Subject:     subject,
		TextContent: text,
		HTMLContent: html,
		Attachments: attachments,
		Headers:     map[string]string{messageIDHeader: rec.MessageID},
	})
	if err != nil {
		return "", err
	}

	sender, err := s.providers.Resolve(rec.ProviderID)
	if err != nil {
		return "", goerror.NewPermanent(err, "provider is not configured")
	}

	res, err := sender.Send(ctx, mail.Message{
		From:    rec.From,
		To:      rec.To,
		Cc:      rec.Cc,
		Bcc:     rec.Bcc,
		Subject: subject,
		Raw:     raw,
	})
	if err != nil {
		return "", err
	}

	return res.ProviderMessageID, nil
}

func (s *Usecase) resolveContent(ctx context.Context, rec *entity.OutboxMessage) (subject, text, html string, err error) {
	subject = rec.Subject

	if rec.TemplateID == nil {
		if rec.BodyContent != nil {
			switch rec.BodyFormat {
			case entity.BodyFormatHTML:
				html = *rec.BodyContent
			default:
				text = *rec.BodyContent
			}
		}
		return subject, text, html, nil
	}

	out, err := s.renderer.Render(ctx, *rec.TemplateID, rec.TemplateData)
	if errors.Is(err, render.ErrTemplateNotFound) {
		return "", "", "", goerror.NewPermanent(err, "template not found")
	}
	if err != nil {
		return "", "", "", goerror.NewPermanent(err, "template rendering failed")
	}

	if out.Subject != "" {
		subject = out.Subject
	}

	return subject, out.TextContent, out.HTMLContent, nil
}

// resolveAttachments loads attachment content from inline bytes, object
// storage or a remote URL. Freshly fetched content is persisted so a retry
// does not refetch it.
func (s *Usecase) resolveAttachments(ctx context.Context, rec *entity.OutboxMessage) ([]mimecodec.Attachment, error) {
	if len(rec.Attachments) == 0 {
		return nil, nil
	}

	out := make([]mimecodec.Attachment, 0, len(rec.Attachments))
	for i, ref := range rec.Attachments {
		att := mimecodec.Attachment{Filename: ref.Filename, ContentType: ref.MimeType}

		switch {
		case len(ref.Content) > 0:
			att.Content = ref.Content
		case ref.StorageKey != "":
			data, contentType, err := s.store.Load(ctx, ref.StorageKey)
			if err != nil {
				return nil, goerror.NewFetch(err, "failed to load stored attachment", true)
			}
			att.Content = data
			if att.ContentType == "" {
				att.ContentType = contentType
			}
		case ref.URL != "":
			res, err := s.fetcher.Fetch(ctx, ref.URL, ref.MimeType)
			if err != nil {
				return nil, err
			}
			att.Content = res.Content
			att.ContentType = res.ContentType

			key, err := s.store.Save(ctx, res.Content, ref.Filename, res.ContentType, rec.TenantID)
			if err != nil {
				slog.WarnContext(ctx, "failed to persist fetched attachment", "message_id", rec.MessageID, "url", ref.URL, "error", err)
			} else {
				rec.Attachments[i].StorageKey = key
			}
		default:
			return nil, goerror.NewPermanent(nil, "attachment has no content source")
		}

		if att.ContentType == "" {
			att.ContentType = "application/octet-stream"
		}
		att.Size = int64(len(att.Content))
		rec.Attachments[i].Size = att.Size
		out = append(out, att)
	}

	return out, nil
}

// handleDeliveryFailure persists the classified outcome. It returns an error
// only when persisting fails, so the caller nacks for redelivery.
func (s *Usecase) handleDeliveryFailure(ctx context.Context, rec *entity.OutboxMessage, deliverErr error) error {
	if goerror.IsBounce(deliverErr) {
		reason := goerror.BounceReason(deliverErr)
		if _, err := s.repoDB.MarkBounced(ctx, rec.ID, reason); err != nil {
			return err
		}

		slog.WarnContext(ctx, "email bounced", "message_id", rec.MessageID, "reason", reason)
		s.publishStatus(ctx, rec, entity.StatusBounced, "", "", reason)

		return nil
	}

	attempt := rec.RetryCount + 1
	if goerror.IsRetryable(deliverErr) && attempt < s.retryPolicy.MaxAttempts {
		nextRetryAt := s.clock.Now().Add(s.backoffFor(attempt))
		if _, err := s.repoDB.ScheduleRetry(ctx, rec.ID, attempt, nextRetryAt, deliverErr.Error()); err != nil {
			return err
		}

		slog.WarnContext(ctx, "email delivery failed, retry scheduled",
			"message_id", rec.MessageID,
			"retry_count", attempt,
			"next_retry_at", nextRetryAt,
			"error", deliverErr,
		)

		return nil
	}

	if _, err := s.repoDB.MarkFailed(ctx, rec.ID, deliverErr.Error()); err != nil {
		return err
	}

	slog.ErrorContext(ctx, "email delivery failed permanently", "message_id", rec.MessageID, "error", deliverErr)
	s.publishStatus(ctx, rec, entity.StatusFailed, "", deliverErr.Error(), "")

	return nil
}
