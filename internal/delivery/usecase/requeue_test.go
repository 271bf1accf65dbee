package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

func TestRequeueRejectsSentAndDelivered(t *testing.T) {
	t.Parallel()

	for _, status := range []entity.Status{entity.StatusSent, entity.StatusDelivered} {
		t.Run(status.String(), func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			rec := env.seedOutbox(status)

			_, err := env.uc.Requeue(context.Background(), RequeueInput{OutboxID: rec.ID})

			var ge *goerror.Error
			if !errors.As(err, &ge) || ge.Type() != goerror.TypeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

// A bounced message is corrected, requeued and delivered on the next consume.
// The correction grants a fresh retry budget, so the requeue increment is the
// only one left on the record.
func TestCorrectAndRequeueBouncedMessage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.seedOutbox(entity.StatusBounced)
	rec.RetryCount = 1
	reason := "550 no such user"
	rec.BounceReason = &reason

	if _, err := env.uc.Correct(context.Background(), CorrectInput{
		OutboxID:   rec.ID,
		OldAddress: "alice@example.com",
		NewAddress: "alice.smith@example.com",
	}); err != nil {
		t.Fatalf("correct: %v", err)
	}

	out, err := env.uc.Requeue(context.Background(), RequeueInput{OutboxID: rec.ID})
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if out.Status != "queued" {
		t.Errorf("requeue status = %q, want queued", out.Status)
	}
	if out.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", out.RetryCount)
	}

	if _, err := env.uc.Consume(context.Background(), 10); err != nil {
		t.Fatalf("consume: %v", err)
	}

	got, _ := env.repo.GetOutbox(context.Background(), rec.ID)
	if got.Status != entity.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want exactly 1", got.RetryCount)
	}
	if got.BounceReason != nil {
		t.Error("bounce_reason not cleared")
	}

	sent := env.provider.lastMessage()
	if len(sent.To) != 1 || sent.To[0] != "alice.smith@example.com" {
		t.Errorf("delivered to %v, want corrected address", sent.To)
	}
}

func TestRequeuePublishesWithRequeueSource(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.seedOutbox(entity.StatusFailed)
	errMsg := "permanent delivery failure"
	rec.ErrorMessage = &errMsg

	if _, err := env.uc.Requeue(context.Background(), RequeueInput{OutboxID: rec.ID}); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	payload := consumeOneSendPayload(t, env)
	if payload.Source != "requeue" {
		t.Errorf("source = %q, want requeue", payload.Source)
	}
	if payload.OriginalOutboxID != rec.ID {
		t.Errorf("original_outbox_id = %d, want %d", payload.OriginalOutboxID, rec.ID)
	}
	if payload.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", payload.RetryCount)
	}

	// The requeue trace survives on the record, not just the queue payload.
	got, err := env.repo.GetOutbox(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get outbox: %v", err)
	}
	if got.Source != entity.SourceRequeue {
		t.Errorf("persisted source = %s, want requeue", got.Source)
	}
	if got.OriginalOutboxID == nil || *got.OriginalOutboxID != rec.ID {
		t.Errorf("persisted original_outbox_id = %v, want %d", got.OriginalOutboxID, rec.ID)
	}
}
