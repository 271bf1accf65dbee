package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"

	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

var (
	// ErrSMTPHostPortRequired is returned when Host/Port are missing.
	ErrSMTPHostPortRequired = errors.New("smtp host and port are required")
	// ErrSMTPNoRecipients is returned when To/Cc/Bcc are all empty.
	ErrSMTPNoRecipients = errors.New("no recipients provided")
	// ErrSMTPNoSender is returned when both Message.From and the configured default From are empty.
	ErrSMTPNoSender = errors.New("no sender provided")
)

// SMTP is a Provider implementation backed by net/smtp.
type SMTP struct {
	addr        string
	host        string
	defaultFrom string
	auth        smtp.Auth
}

// SMTPConfig configures the SMTP implementation.
type SMTPConfig struct {
	// Host is the SMTP server hostname.
	Host string
	// Port is the SMTP server port.
	Port int
	// Username is the SMTP authentication username.
	Username string
	// Password is the SMTP authentication password.
	Password string
	// From is the default sender when Message.From is empty.
	From string
}

// NewSMTP constructs an SMTP provider.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, ErrSMTPHostPortRequired
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTP{
		addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host:        cfg.Host,
		defaultFrom: cfg.From,
		auth:        auth,
	}, nil
}

// Send delivers the raw message over SMTP.
func (s *SMTP) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	recipients := append([]string{}, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)

	if len(recipients) == 0 {
		return SendResult{}, goerror.NewValidation(ErrSMTPNoRecipients.Error())
	}

	from := msg.From
	if from == "" {
		from = s.defaultFrom
	}
	if from == "" {
		return SendResult{}, goerror.NewValidation(ErrSMTPNoSender.Error())
	}

	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	if err := smtp.SendMail(s.addr, s.auth, from, recipients, msg.Raw); err != nil {
		return SendResult{}, classifySMTPError(err)
	}

	return SendResult{}, nil
}

// Close implements io.Closer for interface compatibility.
func (s *SMTP) Close() error {
	return nil
}

// classifySMTPError maps SMTP reply codes onto the delivery taxonomy:
// 4xx replies are retryable, recipient rejections bounce, other 5xx replies
// are permanent, and everything else (dial/TLS trouble) is transient.
func classifySMTPError(err error) error {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return goerror.NewTransient(err, "smtp connection failure")
	}

	switch {
	case tpErr.Code >= 400 && tpErr.Code < 500:
		return goerror.NewTransient(err, "smtp temporary failure")
	case tpErr.Code == 550 || tpErr.Code == 551 || tpErr.Code == 553:
		return goerror.NewBounce(tpErr.Msg)
	default:
		return goerror.NewPermanent(err, "smtp rejected message")
	}
}
