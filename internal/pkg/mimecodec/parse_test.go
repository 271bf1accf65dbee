package mimecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestParsePlainText(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Plain Test",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hello, plain world.",
	}, "\r\n"))

	msg, err := New().Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "sender@example.com")
	}
	if len(msg.To) != 1 || msg.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Plain Test" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Plain Test")
	}
	if msg.TextContent != "Hello, plain world." {
		t.Errorf("TextContent: got %q", msg.TextContent)
	}
	if msg.HTMLContent != "" {
		t.Errorf("HTMLContent: got %q, want empty", msg.HTMLContent)
	}
}

func TestParseEncodedSubject(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: =?UTF-8?Q?Invitaci=C3=B3n?=",
		"Content-Type: text/plain",
		"",
		"body",
	}, "\r\n"))

	msg, err := New().Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "Invitación" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Invitación")
	}
}

func TestParseMultipartWithAttachment(t *testing.T) {
	t.Parallel()

	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake content"))

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Plain body",
		"--inner",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>HTML body</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/pdf",
		"Content-Transfer-Encoding: base64",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		pdf,
		"--outer--",
	}, "\r\n"))

	msg, err := New().Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.TextContent != "Plain body" {
		t.Errorf("TextContent: got %q", msg.TextContent)
	}
	if msg.HTMLContent != "<p>HTML body</p>" {
		t.Errorf("HTMLContent: got %q", msg.HTMLContent)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}

	att := msg.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("Filename: got %q, want %q", att.Filename, "report.pdf")
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("ContentType: got %q, want %q", att.ContentType, "application/pdf")
	}
	if !bytes.Equal(att.Content, []byte("%PDF-1.4 fake content")) {
		t.Errorf("Content: got %q", att.Content)
	}
	if att.Size != int64(len("%PDF-1.4 fake content")) {
		t.Errorf("Size: got %d, want %d", att.Size, len("%PDF-1.4 fake content"))
	}
	if msg.Charsets["text/plain"] != "utf-8" || msg.Charsets["text/html"] != "utf-8" {
		t.Errorf("Charsets: got %v", msg.Charsets)
	}
}

func TestParseInlineImage(t *testing.T) {
	t.Parallel()

	img := base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Inline",
		"Content-Type: multipart/related; boundary=rel",
		"",
		"--rel",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<img src="cid:logo@example.com">`,
		"--rel",
		"Content-Type: image/png",
		"Content-Transfer-Encoding: base64",
		"Content-Id: <logo@example.com>",
		"Content-Disposition: inline",
		"",
		img,
		"--rel--",
	}, "\r\n"))

	msg, err := New().Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.InlineImages) != 1 {
		t.Fatalf("InlineImages: got %d, want 1", len(msg.InlineImages))
	}
	if got := msg.InlineImages["logo@example.com"]; !bytes.Equal(got, []byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("inline content: got %v", got)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(msg.Attachments))
	}
}

func TestParseLegacyCharset(t *testing.T) {
	t.Parallel()

	// "café" in ISO-8859-1, é is 0xE9.
	raw := append([]byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Charset",
		"Content-Type: text/plain; charset=iso-8859-1",
		"",
		"",
	}, "\r\n")), []byte{'c', 'a', 'f', 0xE9}...)

	msg, err := New().Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TextContent != "café" {
		t.Errorf("TextContent: got %q, want %q", msg.TextContent, "café")
	}
	if msg.Charsets["text/plain"] != "iso-8859-1" {
		t.Errorf("Charsets: got %v, want text/plain as iso-8859-1", msg.Charsets)
	}
}

func TestParseMissingBoundaryFallsBack(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Broken",
		"Content-Type: multipart/mixed",
		"",
		"this body has no boundary markers",
	}, "\r\n"))

	msg, err := New().Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TextContent != "this body has no boundary markers" {
		t.Errorf("TextContent: got %q", msg.TextContent)
	}
}

func TestParseMalformedBoundaryFallsBack(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Broken",
		"Content-Type: multipart/mixed; boundary=never-appears",
		"",
		"plain text that is not multipart at all",
	}, "\r\n"))

	msg, err := New().Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TextContent != "plain text that is not multipart at all" {
		t.Errorf("TextContent: got %q, want the raw body", msg.TextContent)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(msg.Attachments))
	}
	if len(msg.InlineImages) != 0 {
		t.Errorf("InlineImages: got %d, want 0", len(msg.InlineImages))
	}
}

func TestParseSizeCap(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Big",
		"Content-Type: text/plain",
		"",
		strings.Repeat("x", 2048),
	}, "\r\n"))

	_, err := New(WithMaxDecodedSize(1024)).Parse(raw)
	if !errors.Is(err, ErrDecodedSizeExceeded) {
		t.Fatalf("expected ErrDecodedSizeExceeded, got %v", err)
	}
}
