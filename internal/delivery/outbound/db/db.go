package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
	"github.com/shandysiswandi/courier/internal/pkg/instrument"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DB is the pgx-backed outbox repository.
type DB struct {
	conn *pgxpool.Pool
	ins  instrument.Instrumentation
}

func NewDB(conn *pgxpool.Pool, ins instrument.Instrumentation) *DB {
	return &DB{
		conn: conn,
		ins:  ins,
	}
}

// outboxColumns is the canonical select list; scanOutbox must match it.
const outboxColumns = `id, message_id, tenant_id, provider_id,
	from_address, to_addresses, cc_addresses, bcc_addresses, subject,
	body_format, body_content, template_id, template_data,
	attachments, status, source,
	retry_count, error_message, bounce_reason,
	corrections, original_outbox_id, provider_message_id,
	queued_at, processing_started_at, sent_at, delivered_at,
	processing_time_ms, next_retry_at, claimed_by, claimed_at,
	metadata, created_at, updated_at`

func (s *DB) mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return goerror.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return goerror.ErrConflict
	}

	return err
}

func (s *DB) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.ins.Tracer("delivery.outbound.db").Start(ctx, name)
}

func (s *DB) endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, goerror.ErrNotFound) && !errors.Is(err, goerror.ErrConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func scanOutbox(row pgx.Row) (*entity.OutboxMessage, error) {
	var m entity.OutboxMessage
	var attachments, corrections []byte

	err := row.Scan(
		&m.ID, &m.MessageID, &m.TenantID, &m.ProviderID,
		&m.From, &m.To, &m.Cc, &m.Bcc, &m.Subject,
		&m.BodyFormat, &m.BodyContent, &m.TemplateID, &m.TemplateData,
		&attachments, &m.Status, &m.Source,
		&m.RetryCount, &m.ErrorMessage, &m.BounceReason,
		&corrections, &m.OriginalOutboxID, &m.ProviderMessageID,
		&m.QueuedAt, &m.ProcessingStartedAt, &m.SentAt, &m.DeliveredAt,
		&m.ProcessingTimeMS, &m.NextRetryAt, &m.ClaimedBy, &m.ClaimedAt,
		&m.Metadata, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, err
		}
	}
	if len(corrections) > 0 {
		if err := json.Unmarshal(corrections, &m.Corrections); err != nil {
			return nil, err
		}
	}

	return &m, nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}
