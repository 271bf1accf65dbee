// Package mail defines the contracts for sending email messages.
//
// The main purpose is to keep the rest of the application independent from a
// specific email provider. Use cases work with the Provider interface and a
// raw MIME Message payload; the concrete delivery mechanism (SMTP, SES) is
// implemented alongside. Provider errors carry the goerror taxonomy so the
// caller can tell transient failures from permanent ones and bounces.
package mail
