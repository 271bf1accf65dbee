package mimecodec

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

func TestBuildValidation(t *testing.T) {
	t.Parallel()

	c := New()

	_, err := c.Build(BuildInput{From: "a@example.com", TextContent: "hi"})
	if err == nil {
		t.Fatal("expected error for missing recipients")
	}
	var ge *goerror.Error
	if !errors.As(err, &ge) || ge.Type() != goerror.TypeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = c.Build(BuildInput{From: "a@example.com", To: []string{"b@example.com"}})
	if err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestBuildParseRoundTripBodies(t *testing.T) {
	t.Parallel()

	c := New()

	in := BuildInput{
		From:        "sender@example.com",
		To:          []string{"alice@example.com", "bob@example.com"},
		Cc:          []string{"carol@example.com"},
		Subject:     "Invitación a café",
		TextContent: "Plain body with accents: café",
		HTMLContent: "<p>HTML body</p>",
	}

	raw, err := c.Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	msg, err := c.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if msg.Subject != in.Subject {
		t.Errorf("Subject: got %q, want %q", msg.Subject, in.Subject)
	}
	if msg.From != in.From {
		t.Errorf("From: got %q, want %q", msg.From, in.From)
	}
	if len(msg.To) != 2 || msg.To[0] != "alice@example.com" || msg.To[1] != "bob@example.com" {
		t.Errorf("To: got %v", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0] != "carol@example.com" {
		t.Errorf("Cc: got %v", msg.Cc)
	}
	if msg.TextContent != in.TextContent {
		t.Errorf("TextContent: got %q, want %q", msg.TextContent, in.TextContent)
	}
	if msg.HTMLContent != in.HTMLContent {
		t.Errorf("HTMLContent: got %q, want %q", msg.HTMLContent, in.HTMLContent)
	}
}

func TestBuildParseRoundTripAttachments(t *testing.T) {
	t.Parallel()

	c := New()

	pdf := []byte("%PDF-1.4 binary\x00payload")
	logo := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}

	raw, err := c.Build(BuildInput{
		From:        "sender@example.com",
		To:          []string{"alice@example.com"},
		Subject:     "Attachments",
		TextContent: "see attached",
		HTMLContent: `<img src="cid:logo@courier">`,
		Attachments: []Attachment{
			{Filename: "report.pdf", ContentType: "application/pdf", Content: pdf},
			{Filename: "logo.png", ContentType: "image/png", ContentID: "logo@courier", Inline: true, Content: logo},
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	msg, err := c.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	if msg.Attachments[0].Filename != "report.pdf" {
		t.Errorf("Filename: got %q", msg.Attachments[0].Filename)
	}
	if !bytes.Equal(msg.Attachments[0].Content, pdf) {
		t.Errorf("attachment content mismatch: got %q", msg.Attachments[0].Content)
	}

	if got := msg.InlineImages["logo@courier"]; !bytes.Equal(got, logo) {
		t.Errorf("inline content mismatch: got %v", got)
	}
}

func TestBuildTextEncodingHeuristic(t *testing.T) {
	t.Parallel()

	if preferBase64("mostly ascii with one é") {
		t.Error("mostly ASCII content should use quoted-printable")
	}
	if !preferBase64("日本語のテキストです。日本語のテキストです。") {
		t.Error("mostly non-ASCII content should use base64")
	}
}

func TestBuildBase64LineWrapping(t *testing.T) {
	t.Parallel()

	encoded := encodeBase64Wrapped(bytes.Repeat([]byte{0xAB}, 600))
	for _, line := range strings.Split(strings.TrimRight(string(encoded), "\r\n"), "\r\n") {
		if len(line) > base64LineLength {
			t.Fatalf("line exceeds %d chars: %d", base64LineLength, len(line))
		}
	}
}

func TestAttachmentPayloads(t *testing.T) {
	t.Parallel()

	atts := []Attachment{
		{Filename: "a.bin", Content: []byte("first")},
		{Filename: "b.bin", Content: []byte("second")},
	}

	payloads := attachmentPayloads(atts)
	if len(payloads) != 2 {
		t.Fatalf("payloads: got %d, want 2", len(payloads))
	}
	if !bytes.Equal(payloads[0], []byte("first")) || !bytes.Equal(payloads[1], []byte("second")) {
		t.Errorf("payloads: got %q and %q", payloads[0], payloads[1])
	}
}

func TestBuildBoundaryAvoidsCollision(t *testing.T) {
	t.Parallel()

	c := New()
	calls := 0
	fixed := [2][]byte{
		bytes.Repeat([]byte{0x01}, 16),
		bytes.Repeat([]byte{0x02}, 16),
	}
	c.randRead = func(p []byte) (int, error) {
		copy(p, fixed[min(calls, 1)])
		calls++
		return len(p), nil
	}

	first, err := c.randomToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	calls = 0

	boundary, err := c.boundaryFor([][]byte{[]byte("payload containing =_" + first)})
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if boundary == "=_"+first {
		t.Fatal("boundary collided with payload")
	}
	if calls < 2 {
		t.Fatalf("expected regeneration after collision, got %d calls", calls)
	}
}
