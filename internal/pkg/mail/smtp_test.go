package mail

import (
	"errors"
	"net/textproto"
	"testing"

	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

func TestNewSMTPValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTP(SMTPConfig{}); !errors.Is(err, ErrSMTPHostPortRequired) {
		t.Fatalf("expected ErrSMTPHostPortRequired, got %v", err)
	}

	p, err := NewSMTP(SMTPConfig{Host: "localhost", Port: 25})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.addr != "localhost:25" {
		t.Fatalf("unexpected addr %q", p.addr)
	}
}

func TestClassifySMTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retryable bool
		bounce    bool
	}{
		{
			name:      "dial failure is retryable",
			err:       errors.New("dial tcp: connection refused"),
			retryable: true,
		},
		{
			name:      "greylisting is retryable",
			err:       &textproto.Error{Code: 451, Msg: "try again later"},
			retryable: true,
		},
		{
			name:   "mailbox unavailable bounces",
			err:    &textproto.Error{Code: 550, Msg: "no such user"},
			bounce: true,
		},
		{
			name: "other 5xx is permanent",
			err:  &textproto.Error{Code: 554, Msg: "transaction failed"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := classifySMTPError(tc.err)
			if goerror.IsRetryable(got) != tc.retryable {
				t.Fatalf("retryable = %v, want %v", goerror.IsRetryable(got), tc.retryable)
			}
			if goerror.IsBounce(got) != tc.bounce {
				t.Fatalf("bounce = %v, want %v", goerror.IsBounce(got), tc.bounce)
			}
		})
	}
}
