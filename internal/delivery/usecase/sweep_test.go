package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/shared/event"
)

func consumeOneSendPayload(t *testing.T, env *testEnv) event.EmailSendMessage {
	t.Helper()

	deliveries, err := env.gateway.Consume(context.Background(), event.EmailSendDestination, 10)
	if err != nil {
		t.Fatalf("consume send queue: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("send queue messages = %d, want 1", len(deliveries))
	}

	var payload event.EmailSendMessage
	if err := json.Unmarshal(deliveries[0].Body(), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	return payload
}

func TestSweepDueRetriesRequeues(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.seedOutbox(entity.StatusPending)
	rec.RetryCount = 1
	due := env.clock.Now().Add(-time.Minute)
	rec.NextRetryAt = &due

	swept, err := env.uc.SweepDueRetries(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, _ := env.repo.GetOutbox(context.Background(), rec.ID)
	if got.Status != entity.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}

	payload := consumeOneSendPayload(t, env)
	if payload.MessageID != rec.MessageID || payload.RetryCount != 1 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestSweepDueRetriesSkipsFutureRetry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.seedOutbox(entity.StatusPending)
	future := env.clock.Now().Add(time.Hour)
	rec.NextRetryAt = &future

	swept, err := env.uc.SweepDueRetries(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}

	got, _ := env.repo.GetOutbox(context.Background(), rec.ID)
	if got.Status != entity.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestSweepExpiredClaimsReleasesStuckMessage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.seedOutbox(entity.StatusProcessing)
	worker := "worker-dead-7"
	stale := env.clock.Now().Add(-time.Hour)
	rec.ClaimedBy = &worker
	rec.ClaimedAt = &stale

	swept, err := env.uc.SweepExpiredClaims(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, _ := env.repo.GetOutbox(context.Background(), rec.ID)
	if got.Status != entity.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.ClaimedBy != nil {
		t.Error("claim not cleared")
	}

	payload := consumeOneSendPayload(t, env)
	if payload.MessageID != rec.MessageID {
		t.Errorf("payload message id = %q", payload.MessageID)
	}
}

func TestSweepExpiredClaimsKeepsFreshClaim(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.seedOutbox(entity.StatusProcessing)
	worker := "worker-alive-1"
	fresh := env.clock.Now().Add(-time.Minute)
	rec.ClaimedBy = &worker
	rec.ClaimedAt = &fresh

	swept, err := env.uc.SweepExpiredClaims(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0", swept)
	}

	got, _ := env.repo.GetOutbox(context.Background(), rec.ID)
	if got.Status != entity.StatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
}
