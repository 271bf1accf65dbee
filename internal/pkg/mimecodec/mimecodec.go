// Package mimecodec parses and builds RFC 5322 email messages with MIME
// multipart support.
//
// Parse walks nested multipart bodies, decodes transfer encodings and
// normalizes text charsets to UTF-8. Build produces the inverse: a raw
// message with multipart/mixed, multipart/alternative and multipart/related
// nesting as the content requires. Parse errors carry the goerror taxonomy.
package mimecodec

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/textproto"

	"github.com/shandysiswandi/courier/internal/pkg/clock"
)

// defaultMaxDecodedSize caps the cumulative decoded size of a parsed message.
const defaultMaxDecodedSize = 25 << 20 // 25 MiB

// Attachment is a file part of an email message.
type Attachment struct {
	// Filename is the attachment file name.
	Filename string
	// ContentType is the MIME type, application/octet-stream when unknown.
	ContentType string
	// ContentID is the Content-ID header value without angle brackets.
	ContentID string
	// Inline marks parts referenced from the HTML body (cid: links).
	Inline bool
	// Content is the decoded payload.
	Content []byte
	// Size is the decoded payload length in bytes.
	Size int64
}

// ParsedEmail is the decoded form of a raw message.
type ParsedEmail struct {
	// Subject is the RFC 2047 decoded subject.
	Subject string
	// From is the sender address.
	From string
	// To lists recipient addresses.
	To []string
	// Cc lists carbon copy addresses.
	Cc []string
	// Headers holds all top-level message headers.
	Headers textproto.MIMEHeader
	// TextContent is the text/plain body, UTF-8.
	TextContent string
	// HTMLContent is the text/html body, UTF-8.
	HTMLContent string
	// Attachments lists non-inline file parts.
	Attachments []Attachment
	// InlineImages maps Content-ID to decoded inline part content.
	InlineImages map[string][]byte
	// Charsets maps text media types to the charset each part declared,
	// before normalization to UTF-8. Undeclared charsets record as utf-8.
	Charsets map[string]string
}

// BuildInput describes a message to encode.
type BuildInput struct {
	// From is the sender address.
	From string
	// To lists recipient addresses.
	To []string
	// Cc lists carbon copy addresses.
	Cc []string
	// Subject is the subject line, RFC 2047 encoded when needed.
	Subject string
	// TextContent is the optional text/plain body.
	TextContent string
	// HTMLContent is the optional text/html body.
	HTMLContent string
	// Attachments lists file parts, inline ones keyed off Content-ID.
	Attachments []Attachment
	// Headers holds extra top-level headers.
	Headers map[string]string
}

// Codec encodes and decodes email messages.
type Codec struct {
	maxDecodedSize int64
	clock          clock.Clocker
	randRead       func([]byte) (int, error)
}

// Option customizes a Codec.
type Option func(*Codec)

// WithMaxDecodedSize overrides the decoded-size cap for Parse.
func WithMaxDecodedSize(n int64) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxDecodedSize = n
		}
	}
}

// WithClock overrides the clock used for the Date header.
func WithClock(clk clock.Clocker) Option {
	return func(c *Codec) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// New constructs a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		maxDecodedSize: defaultMaxDecodedSize,
		clock:          clock.New(),
		randRead:       rand.Read,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// randomToken returns a hex string for boundary generation.
func (c *Codec) randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(readerFunc(c.randRead), buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
