package usecase

import (
	"context"
	"log/slog"
)

// SweepDueRetries republishes pending messages whose retry time has arrived.
// Returns how many messages were requeued.
func (s *Usecase) SweepDueRetries(ctx context.Context, limit int32) (int, error) {
	ctx, span := s.startSpan(ctx, "SweepDueRetries")
	defer span.End()

	now := s.clock.Now()
	recs, err := s.repoDB.ListDueRetries(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, rec := range recs {
		if err := s.publishSend(ctx, sendMessageFromOutbox(rec, now)); err != nil {
			slog.ErrorContext(ctx, "failed to republish due retry", "message_id", rec.MessageID, "error", err)
			continue
		}

		ok, err := s.repoDB.MarkQueued(ctx, rec.ID, now)
		if err != nil {
			slog.ErrorContext(ctx, "failed to mark due retry as queued", "message_id", rec.MessageID, "error", err)
			continue
		}
		if ok {
			swept++
		}
	}

	if swept > 0 {
		slog.InfoContext(ctx, "due retries requeued", "count", swept)
	}

	return swept, nil
}

// SweepExpiredClaims releases processing claims whose lease expired, covering
// workers that died mid delivery, and puts the messages back on the queue.
func (s *Usecase) SweepExpiredClaims(ctx context.Context, limit int32) (int, error) {
	ctx, span := s.startSpan(ctx, "SweepExpiredClaims")
	defer span.End()

	now := s.clock.Now()
	cutoff := now.Add(-s.claimTTL)

	recs, err := s.repoDB.ListExpiredClaims(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, rec := range recs {
		ok, err := s.repoDB.ReleaseClaim(ctx, rec.ID, cutoff)
		if err != nil {
			slog.ErrorContext(ctx, "failed to release expired claim", "message_id", rec.MessageID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if err := s.publishSend(ctx, sendMessageFromOutbox(rec, now)); err != nil {
			slog.ErrorContext(ctx, "failed to republish released message", "message_id", rec.MessageID, "error", err)
			continue
		}

		slog.WarnContext(ctx, "expired claim released",
			"message_id", rec.MessageID,
			"claimed_by", stringValue(rec.ClaimedBy),
		)
		swept++
	}

	return swept, nil
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
