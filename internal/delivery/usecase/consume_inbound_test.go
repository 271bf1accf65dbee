package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/queue"
	"github.com/shandysiswandi/courier/internal/shared/event"
)

func publishInbound(t *testing.T, env *testEnv, tenantID, raw string) {
	t.Helper()

	body, err := json.Marshal(event.EmailInboundMessage{TenantID: tenantID, Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("marshal inbound: %v", err)
	}
	if err := env.gateway.Publish(context.Background(), event.EmailInboundDestination, queue.OutgoingMessage{Body: body}); err != nil {
		t.Fatalf("publish inbound: %v", err)
	}
}

func TestConsumeInboundBounceReport(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.seedOutbox(entity.StatusSent)

	raw := strings.Join([]string{
		"From: mailer-daemon@example.com",
		"To: noreply@example.com",
		"Subject: Undelivered Mail Returned to Sender",
		"X-Courier-Message-Id: " + rec.MessageID,
		"X-Failed-Recipients: alice@example.com",
		"",
		"The following address failed: alice@example.com",
	}, "\r\n")
	publishInbound(t, env, "tenant-a", raw)

	processed, err := env.uc.ConsumeInbound(context.Background(), 10)
	if err != nil {
		t.Fatalf("consume inbound: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	got, _ := env.repo.GetOutbox(context.Background(), rec.ID)
	if got.Status != entity.StatusBounced {
		t.Fatalf("status = %s, want bounced", got.Status)
	}
	if got.BounceReason == nil || !strings.Contains(*got.BounceReason, "alice@example.com") {
		t.Errorf("bounce_reason = %v", got.BounceReason)
	}

	statusEvents, _ := env.gateway.Consume(context.Background(), event.EmailStatusDestination, 10)
	if len(statusEvents) != 1 {
		t.Fatalf("status events = %d, want 1", len(statusEvents))
	}
	var status event.EmailStatusMessage
	if err := json.Unmarshal(statusEvents[0].Body(), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Status != "bounced" {
		t.Errorf("status event = %+v", status)
	}
}

func TestConsumeInboundBounceForUnknownMessageDropped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	raw := strings.Join([]string{
		"From: mailer-daemon@example.com",
		"To: noreply@example.com",
		"Subject: Undelivered Mail Returned to Sender",
		"X-Courier-Message-Id: never-sent",
		"X-Failed-Recipients: ghost@example.com",
		"",
		"body",
	}, "\r\n")
	publishInbound(t, env, "tenant-a", raw)

	processed, err := env.uc.ConsumeInbound(context.Background(), 10)
	if err != nil {
		t.Fatalf("consume inbound: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	left, _ := env.gateway.Consume(context.Background(), event.EmailInboundDestination, 10)
	if len(left) != 0 {
		t.Errorf("inbound message left on queue: %d", len(left))
	}
}

func TestConsumeInboundForwardsEmail(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: dest@example.com",
		"Subject: Quarterly numbers",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=frontier",
		"",
		"--frontier",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"numbers attached",
		"--frontier",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment; filename=q3.pdf",
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQ=",
		"--frontier--",
		"",
	}, "\r\n")
	publishInbound(t, env, "tenant-c", raw)

	processed, err := env.uc.ConsumeInbound(context.Background(), 10)
	if err != nil {
		t.Fatalf("consume inbound: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	payload := consumeOneSendPayload(t, env)
	if payload.From != "sender@example.com" || payload.Subject != "Quarterly numbers" {
		t.Errorf("payload = %+v", payload)
	}

	rec, err := env.repo.GetOutboxByMessageID(context.Background(), payload.MessageID)
	if err != nil {
		t.Fatalf("forwarded record not persisted: %v", err)
	}
	if rec.Status != entity.StatusQueued {
		t.Errorf("status = %s, want queued", rec.Status)
	}
	if rec.TenantID != "tenant-c" {
		t.Errorf("tenant_id = %q", rec.TenantID)
	}
	if len(rec.Attachments) != 1 || rec.Attachments[0].StorageKey == "" {
		t.Fatalf("attachments = %+v", rec.Attachments)
	}
	data, _, err := env.store.Load(context.Background(), rec.Attachments[0].StorageKey)
	if err != nil {
		t.Fatalf("load stored attachment: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Errorf("stored attachment = %q", data)
	}
}

func TestConsumeInboundRedeliveryDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: dest@example.com",
		"Subject: Same bytes twice",
		"",
		"hello",
	}, "\r\n")
	publishInbound(t, env, "tenant-a", raw)
	publishInbound(t, env, "tenant-a", raw)

	if _, err := env.uc.ConsumeInbound(context.Background(), 10); err != nil {
		t.Fatalf("consume inbound: %v", err)
	}

	count := 0
	env.repo.mu.Lock()
	for _, rec := range env.repo.byID {
		if rec.Subject == "Same bytes twice" {
			count++
		}
	}
	env.repo.mu.Unlock()
	if count != 1 {
		t.Errorf("forwarded records = %d, want 1", count)
	}
}

func TestConsumeInboundDropsUnparseable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	publishInbound(t, env, "tenant-a", "this is not an rfc 5322 message")

	processed, err := env.uc.ConsumeInbound(context.Background(), 10)
	if err != nil {
		t.Fatalf("consume inbound: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	left, _ := env.gateway.Consume(context.Background(), event.EmailInboundDestination, 10)
	if len(left) != 0 {
		t.Errorf("unparseable message left on queue: %d", len(left))
	}
}
