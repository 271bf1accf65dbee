package db

import (
	"context"
	"time"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
)

// Every update below is a compare-and-swap on status. The expected-status
// predicate in the WHERE clause is the only concurrency control; a zero row
// count means another worker moved the message first.

func (s *DB) MarkQueued(ctx context.Context, id int64, queuedAt time.Time) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "MarkQueued")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, queued_at = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		entity.StatusQueued, queuedAt, id, entity.StatusPending,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

// ClaimProcessing moves a pending or queued message to processing and stamps
// the claim lease for the worker.
func (s *DB) ClaimProcessing(ctx context.Context, id int64, workerID string, at time.Time) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "ClaimProcessing")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, processing_started_at = $2, claimed_by = $3, claimed_at = $2, updated_at = now()
		WHERE id = $4 AND status IN ($5, $6)`,
		entity.StatusProcessing, at, workerID, id, entity.StatusPending, entity.StatusQueued,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *DB) MarkSent(ctx context.Context, id int64, sentAt time.Time, processingTimeMS int64, providerMessageID string) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "MarkSent")
	defer func() { s.endSpan(span, err) }()

	var pmid *string
	if providerMessageID != "" {
		pmid = &providerMessageID
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, sent_at = $2, processing_time_ms = $3, provider_message_id = $4,
			error_message = NULL, next_retry_at = NULL,
			claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $5 AND status = $6`,
		entity.StatusSent, sentAt, processingTimeMS, pmid, id, entity.StatusProcessing,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *DB) MarkDelivered(ctx context.Context, messageID string, deliveredAt time.Time) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "MarkDelivered")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, delivered_at = $2, updated_at = now()
		WHERE message_id = $3 AND status = $4`,
		entity.StatusDelivered, deliveredAt, messageID, entity.StatusSent,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *DB) MarkFailed(ctx context.Context, id int64, errorMessage string) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "MarkFailed")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, error_message = $2, next_retry_at = NULL,
			claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $3 AND status = $4`,
		entity.StatusFailed, errorMessage, id, entity.StatusProcessing,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *DB) MarkBounced(ctx context.Context, id int64, bounceReason string) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "MarkBounced")
	defer func() { s.endSpan(span, err) }()

	// Bounces land either during processing or after the provider accepted
	// the message.
	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, bounce_reason = $2, next_retry_at = NULL,
			claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $3 AND status IN ($4, $5)`,
		entity.StatusBounced, bounceReason, id, entity.StatusProcessing, entity.StatusSent,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

// ScheduleRetry returns the message to pending with an updated retry count
// and next attempt time.
func (s *DB) ScheduleRetry(ctx context.Context, id int64, retryCount int32, nextRetryAt time.Time, errorMessage string) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "ScheduleRetry")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, retry_count = $2, next_retry_at = $3, error_message = $4,
			claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $5 AND status = $6`,
		entity.StatusPending, retryCount, nextRetryAt, errorMessage, id, entity.StatusProcessing,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

// RequeueOutbox resets a failed, bounced or stale pending message to pending
// with the given retry count so it can be dispatched again. The record keeps
// a trace of the manual requeue: source flips to requeue and
// original_outbox_id points back at itself.
func (s *DB) RequeueOutbox(ctx context.Context, id int64, expected entity.Status, retryCount int32) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "RequeueOutbox")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, retry_count = $2, source = $3, original_outbox_id = id,
			next_retry_at = NULL, bounce_reason = NULL, error_message = NULL,
			claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $4 AND status = $5`,
		entity.StatusPending, retryCount, entity.SourceRequeue, id, expected,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

// ReleaseClaim returns a stuck processing message to queued, but only when
// its claim lease is older than cutoff.
func (s *DB) ReleaseClaim(ctx context.Context, id int64, cutoff time.Time) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "ReleaseClaim")
	defer func() { s.endSpan(span, err) }()

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE id = $2 AND status = $3 AND claimed_at IS NOT NULL AND claimed_at <= $4`,
		entity.StatusQueued, id, entity.StatusProcessing, cutoff,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}

// ApplyCorrection replaces the recipient lists, appends to the correction
// history and resets the message to pending with a fresh retry budget.
// expected guards the CAS so a correction cannot land on a message that
// moved on.
func (s *DB) ApplyCorrection(ctx context.Context, id int64, expected entity.Status, to, cc, bcc []string, corrections []entity.Correction) (_ bool, err error) {
	ctx, span := s.startSpan(ctx, "ApplyCorrection")
	defer func() { s.endSpan(span, err) }()

	encoded, err := marshalJSON(corrections)
	if err != nil {
		return false, err
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, to_addresses = $2, cc_addresses = $3, bcc_addresses = $4,
			corrections = $5, retry_count = 0, bounce_reason = NULL,
			error_message = NULL, next_retry_at = NULL, updated_at = now()
		WHERE id = $6 AND status = $7`,
		entity.StatusPending, to, cc, bcc, encoded, id, expected,
	)
	if err != nil {
		return false, s.mapError(err)
	}

	return tag.RowsAffected() == 1, nil
}
