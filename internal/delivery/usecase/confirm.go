package usecase

import (
	"context"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

type ConfirmDeliveryInput struct {
	MessageID         string `validate:"required"`
	ProviderMessageID string
}

// ConfirmDelivery records a provider delivery confirmation for a sent
// message. Confirming an already delivered message is a no-op.
func (s *Usecase) ConfirmDelivery(ctx context.Context, in ConfirmDeliveryInput) error {
	ctx, span := s.startSpan(ctx, "ConfirmDelivery")
	defer span.End()

	if err := s.validate(in); err != nil {
		return err
	}

	rec, err := s.repoDB.GetOutboxByMessageID(ctx, in.MessageID)
	if err != nil {
		return err
	}
	if rec.Status == entity.StatusDelivered {
		return nil
	}

	ok, err := s.repoDB.MarkDelivered(ctx, in.MessageID, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		current, getErr := s.repoDB.GetOutboxByMessageID(ctx, in.MessageID)
		if getErr == nil && current.Status == entity.StatusDelivered {
			return nil
		}

		return goerror.NewValidation("message is not awaiting delivery confirmation", "status", rec.Status.String())
	}

	providerMessageID := in.ProviderMessageID
	if providerMessageID == "" && rec.ProviderMessageID != nil {
		providerMessageID = *rec.ProviderMessageID
	}
	s.publishStatus(ctx, rec, entity.StatusDelivered, providerMessageID, "", "")

	return nil
}
