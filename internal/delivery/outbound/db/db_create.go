package db

import (
	"context"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
)

func (s *DB) CreateOutbox(ctx context.Context, m *entity.OutboxMessage) (err error) {
	ctx, span := s.startSpan(ctx, "CreateOutbox")
	defer func() { s.endSpan(span, err) }()

	attachments, err := marshalJSON(m.Attachments)
	if err != nil {
		return err
	}
	corrections, err := marshalJSON(m.Corrections)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO email_outbox (
			id, message_id, tenant_id, provider_id,
			from_address, to_addresses, cc_addresses, bcc_addresses, subject,
			body_format, body_content, template_id, template_data,
			attachments, corrections, status, source,
			retry_count, original_outbox_id, metadata,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20,
			now(), now()
		)`,
		m.ID, m.MessageID, m.TenantID, m.ProviderID,
		m.From, m.To, m.Cc, m.Bcc, m.Subject,
		m.BodyFormat, m.BodyContent, m.TemplateID, m.TemplateData,
		attachments, corrections, m.Status, m.Source,
		m.RetryCount, m.OriginalOutboxID, m.Metadata,
	)

	return s.mapError(err)
}
