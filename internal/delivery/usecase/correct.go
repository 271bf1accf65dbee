package usecase

import (
	"context"

	"github.com/shandysiswandi/courier/internal/delivery/entity"
	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

type CorrectInput struct {
	OutboxID   int64  `validate:"required"`
	OldAddress string `validate:"required,email"`
	NewAddress string `validate:"required,email"`
	Reason     string
	Actor      string
}

type CorrectOutput struct {
	MessageID string
	Status    string
}

// Correct replaces a recipient address on a message that has not gone out yet
// and records the change in the correction history. The message returns to
// pending; dispatching it again is a separate Requeue call.
func (s *Usecase) Correct(ctx context.Context, in CorrectInput) (*CorrectOutput, error) {
	ctx, span := s.startSpan(ctx, "Correct")
	defer span.End()

	if err := s.validate(in); err != nil {
		return nil, err
	}

	rec, err := s.repoDB.GetOutbox(ctx, in.OutboxID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case entity.StatusPending, entity.StatusFailed, entity.StatusBounced:
	default:
		return nil, goerror.NewValidation("message cannot be corrected in its current state", "status", rec.Status.String())
	}

	to, foundTo := replaceAddress(rec.To, in.OldAddress, in.NewAddress)
	cc, foundCc := replaceAddress(rec.Cc, in.OldAddress, in.NewAddress)
	bcc, foundBcc := replaceAddress(rec.Bcc, in.OldAddress, in.NewAddress)
	if !foundTo && !foundCc && !foundBcc {
		return nil, goerror.NewValidation("address is not a recipient of this message", "old_address", in.OldAddress)
	}

	corrections := append(rec.Corrections, entity.Correction{
		At:         s.clock.Now(),
		OldAddress: in.OldAddress,
		NewAddress: in.NewAddress,
		Reason:     in.Reason,
		Actor:      in.Actor,
	})

	ok, err := s.repoDB.ApplyCorrection(ctx, rec.ID, rec.Status, to, cc, bcc, corrections)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, goerror.ErrConflict
	}

	return &CorrectOutput{MessageID: rec.MessageID, Status: entity.StatusPending.String()}, nil
}

// replaceAddress swaps every occurrence of old for new and reports whether
// any replacement happened.
func replaceAddress(addrs []string, old, new string) ([]string, bool) {
	if len(addrs) == 0 {
		return addrs, false
	}

	out := make([]string, len(addrs))
	found := false
	for i, addr := range addrs {
		if addr == old {
			out[i] = new
			found = true
			continue
		}
		out[i] = addr
	}

	return out, found
}
