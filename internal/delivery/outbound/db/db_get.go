package db

import (
	"context"
	"time"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
)

func (s *DB) GetOutbox(ctx context.Context, id int64) (_ *entity.OutboxMessage, err error) {
	ctx, span := s.startSpan(ctx, "GetOutbox")
	defer func() { s.endSpan(span, err) }()

	row := s.conn.QueryRow(ctx, `SELECT `+outboxColumns+` FROM email_outbox WHERE id = $1`, id)

	m, err := scanOutbox(row)
	if err != nil {
		return nil, s.mapError(err)
	}

	return m, nil
}

func (s *DB) GetOutboxByMessageID(ctx context.Context, messageID string) (_ *entity.OutboxMessage, err error) {
	ctx, span := s.startSpan(ctx, "GetOutboxByMessageID")
	defer func() { s.endSpan(span, err) }()

	row := s.conn.QueryRow(ctx, `SELECT `+outboxColumns+` FROM email_outbox WHERE message_id = $1`, messageID)

	m, err := scanOutbox(row)
	if err != nil {
		return nil, s.mapError(err)
	}

	return m, nil
}

// ListDueRetries returns pending messages whose next retry time has passed.
func (s *DB) ListDueRetries(ctx context.Context, now time.Time, limit int32) (_ []*entity.OutboxMessage, err error) {
	ctx, span := s.startSpan(ctx, "ListDueRetries")
	defer func() { s.endSpan(span, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM email_outbox
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at
		LIMIT $3`,
		entity.StatusPending, now, limit,
	)
	if err != nil {
		return nil, s.mapError(err)
	}
	defer rows.Close()

	var out []*entity.OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, s.mapError(err)
		}
		out = append(out, m)
	}

	return out, s.mapError(rows.Err())
}

// ListExpiredClaims returns processing messages whose claim lease expired
// before cutoff.
func (s *DB) ListExpiredClaims(ctx context.Context, cutoff time.Time, limit int32) (_ []*entity.OutboxMessage, err error) {
	ctx, span := s.startSpan(ctx, "ListExpiredClaims")
	defer func() { s.endSpan(span, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM email_outbox
		WHERE status = $1 AND claimed_at IS NOT NULL AND claimed_at <= $2
		ORDER BY claimed_at
		LIMIT $3`,
		entity.StatusProcessing, cutoff, limit,
	)
	if err != nil {
		return nil, s.mapError(err)
	}
	defer rows.Close()

	var out []*entity.OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, s.mapError(err)
		}
		out = append(out, m)
	}

	return out, s.mapError(rows.Err())
}
