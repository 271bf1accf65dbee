package inbound

import (
	"context"
)

type uc interface {
	Consume(ctx context.Context, maxMessages int) (int, error)
	ConsumeInbound(ctx context.Context, maxMessages int) (int, error)
	SweepDueRetries(ctx context.Context, limit int32) (int, error)
	SweepExpiredClaims(ctx context.Context, limit int32) (int, error)
}
