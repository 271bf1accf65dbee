package mail

import (
	"context"
	"io"
)

// Message is a fully rendered email ready for handoff to a provider.
//
// Raw carries the complete RFC 5322 message (headers and MIME body); the
// envelope fields are repeated so providers that take structured input do not
// have to re-parse it.
type Message struct {
	// From is the envelope sender.
	From string
	// To lists required recipients.
	To []string
	// Cc lists carbon copy recipients.
	Cc []string
	// Bcc lists blind carbon copy recipients.
	Bcc []string
	// Subject is the email subject line.
	Subject string
	// Raw is the complete MIME-encoded message.
	Raw []byte
}

// SendResult carries provider metadata about an accepted message.
type SendResult struct {
	// ProviderMessageID is the provider-assigned message ID, when available.
	ProviderMessageID string
}

// Provider abstracts an email delivery backend (SMTP, SES, etc).
//
// Send errors are expected to be classified with the goerror taxonomy so the
// dispatcher can tell retryable failures from permanent ones.
type Provider interface {
	io.Closer
	// Send dispatches the message and returns provider metadata on success.
	Send(ctx context.Context, msg Message) (SendResult, error)
}
