package usecase

import (
	"context"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

type RequeueInput struct {
	OutboxID int64 `validate:"required"`
}

type RequeueOutput struct {
	MessageID  string
	Status     string
	RetryCount int32
}

// Requeue puts a failed, bounced or stranded pending message back on the send
// queue. The retry count increments so the requeued attempt is visible in the
// record history.
func (s *Usecase) Requeue(ctx context.Context, in RequeueInput) (*RequeueOutput, error) {
	ctx, span := s.startSpan(ctx, "Requeue")
	defer span.End()

	if err := s.validate(in); err != nil {
		return nil, err
	}

	rec, err := s.repoDB.GetOutbox(ctx, in.OutboxID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case entity.StatusFailed, entity.StatusBounced, entity.StatusPending:
	default:
		return nil, goerror.NewValidation("message cannot be requeued in its current state", "status", rec.Status.String())
	}

	retryCount := rec.RetryCount + 1

	ok, err := s.repoDB.RequeueOutbox(ctx, rec.ID, rec.Status, retryCount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, goerror.ErrConflict
	}

	msg := sendMessageFromOutbox(rec, s.clock.Now())
	msg.RetryCount = retryCount
	msg.Source = entity.SourceRequeue.String()
	msg.OriginalOutboxID = rec.ID

	if err := s.publishSend(ctx, msg); err != nil {
		// The record stays pending and can be requeued again.
		return nil, err
	}

	status := entity.StatusPending
	ok, err = s.repoDB.MarkQueued(ctx, rec.ID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if ok {
		status = entity.StatusQueued
	}

	return &RequeueOutput{MessageID: rec.MessageID, Status: status.String(), RetryCount: retryCount}, nil
}
