package mimecodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

// base64LineLength is the RFC 2045 maximum encoded line length.
const base64LineLength = 76

// Build encodes a message into raw RFC 5322 form. The part structure depends
// on the content: multipart/alternative when both bodies are set,
// multipart/related when inline images reference the HTML body, and
// multipart/mixed when regular attachments are present.
func (c *Codec) Build(in BuildInput) ([]byte, error) {
	if len(in.To) == 0 {
		return nil, goerror.NewValidation("at least one recipient is required")
	}
	if in.TextContent == "" && in.HTMLContent == "" && len(in.Attachments) == 0 {
		return nil, goerror.NewValidation("message has no content")
	}

	var buf bytes.Buffer

	writeHeader(&buf, "From", in.From)
	writeHeader(&buf, "To", strings.Join(in.To, ", "))
	if len(in.Cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(in.Cc, ", "))
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", in.Subject))
	writeHeader(&buf, "Date", c.clock.Now().UTC().Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	extra := make([]string, 0, len(in.Headers))
	for key := range in.Headers {
		extra = append(extra, key)
	}
	sort.Strings(extra)
	for _, key := range extra {
		writeHeader(&buf, key, in.Headers[key])
	}

	var inline, attached []Attachment
	for _, att := range in.Attachments {
		if att.Inline && att.ContentID != "" {
			inline = append(inline, att)
		} else {
			attached = append(attached, att)
		}
	}

	body, err := c.buildBody(in, inline, attached)
	if err != nil {
		return nil, err
	}

	writeHeader(&buf, "Content-Type", body.contentType)
	if body.encoding != "" {
		writeHeader(&buf, "Content-Transfer-Encoding", body.encoding)
	}
	buf.WriteString("\r\n")
	buf.Write(body.content)

	return buf.Bytes(), nil
}

// encodedBody is a fully encoded message body with its top-level headers.
type encodedBody struct {
	contentType string
	encoding    string
	content     []byte
}

func (c *Codec) buildBody(in BuildInput, inline, attached []Attachment) (encodedBody, error) {
	inner, err := c.buildContentBody(in, inline)
	if err != nil {
		return encodedBody{}, err
	}
	if len(attached) == 0 {
		return inner, nil
	}

	boundary, err := c.boundaryFor(attachmentPayloads(attached))
	if err != nil {
		return encodedBody{}, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return encodedBody{}, err
	}

	if err := writeEncodedPart(w, inner); err != nil {
		return encodedBody{}, err
	}
	for _, att := range attached {
		if err := writeAttachmentPart(w, att); err != nil {
			return encodedBody{}, err
		}
	}
	if err := w.Close(); err != nil {
		return encodedBody{}, err
	}

	return encodedBody{
		contentType: mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": boundary}),
		content:     buf.Bytes(),
	}, nil
}

// buildContentBody encodes the text/html alternatives and inline images,
// without regular attachments.
func (c *Codec) buildContentBody(in BuildInput, inline []Attachment) (encodedBody, error) {
	htmlBody, err := c.buildHTMLBody(in.HTMLContent, inline)
	if err != nil {
		return encodedBody{}, err
	}

	switch {
	case in.TextContent != "" && in.HTMLContent != "":
		return c.buildAlternative(in.TextContent, htmlBody)
	case in.HTMLContent != "":
		return htmlBody, nil
	case in.TextContent != "":
		return encodeTextPart("text/plain", in.TextContent), nil
	default:
		return encodeTextPart("text/plain", ""), nil
	}
}

func (c *Codec) buildAlternative(text string, htmlBody encodedBody) (encodedBody, error) {
	boundary, err := c.boundaryFor([][]byte{[]byte(text), htmlBody.content})
	if err != nil {
		return encodedBody{}, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return encodedBody{}, err
	}

	if err := writeEncodedPart(w, encodeTextPart("text/plain", text)); err != nil {
		return encodedBody{}, err
	}
	if err := writeEncodedPart(w, htmlBody); err != nil {
		return encodedBody{}, err
	}
	if err := w.Close(); err != nil {
		return encodedBody{}, err
	}

	return encodedBody{
		contentType: mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": boundary}),
		content:     buf.Bytes(),
	}, nil
}

// buildHTMLBody wraps the HTML part in multipart/related when inline images
// are present.
func (c *Codec) buildHTMLBody(html string, inline []Attachment) (encodedBody, error) {
	htmlPart := encodeTextPart("text/html", html)
	if html == "" || len(inline) == 0 {
		return htmlPart, nil
	}

	boundary, err := c.boundaryFor(attachmentPayloads(inline))
	if err != nil {
		return encodedBody{}, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return encodedBody{}, err
	}

	if err := writeEncodedPart(w, htmlPart); err != nil {
		return encodedBody{}, err
	}
	for _, att := range inline {
		if err := writeAttachmentPart(w, att); err != nil {
			return encodedBody{}, err
		}
	}
	if err := w.Close(); err != nil {
		return encodedBody{}, err
	}

	return encodedBody{
		contentType: mime.FormatMediaType("multipart/related", map[string]string{
			"boundary": boundary,
			"type":     "text/html",
		}),
		content: buf.Bytes(),
	}, nil
}

// attachmentPayloads collects attachment contents for boundary collision
// checks.
func attachmentPayloads(atts []Attachment) [][]byte {
	payloads := make([][]byte, 0, len(atts))
	for _, att := range atts {
		payloads = append(payloads, att.Content)
	}

	return payloads
}

// boundaryFor generates a boundary that does not collide with any payload.
func (c *Codec) boundaryFor(payloads [][]byte) (string, error) {
	for {
		token, err := c.randomToken()
		if err != nil {
			return "", err
		}
		boundary := "=_" + token

		collision := false
		for _, payload := range payloads {
			if bytes.Contains(payload, []byte(boundary)) {
				collision = true
				break
			}
		}
		if !collision {
			return boundary, nil
		}
	}
}

// encodeTextPart encodes a text body, picking quoted-printable for mostly
// ASCII content and base64 otherwise.
func encodeTextPart(mediaType, content string) encodedBody {
	contentType := mime.FormatMediaType(mediaType, map[string]string{"charset": "utf-8"})

	if preferBase64(content) {
		return encodedBody{
			contentType: contentType,
			encoding:    "base64",
			content:     encodeBase64Wrapped([]byte(content)),
		}
	}

	// Writes to a bytes.Buffer cannot fail.
	var buf bytes.Buffer
	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(content))
	_ = qp.Close()

	return encodedBody{
		contentType: contentType,
		encoding:    "quoted-printable",
		content:     buf.Bytes(),
	}
}

// preferBase64 reports whether base64 beats quoted-printable for the content.
// Quoted-printable triples every non-ASCII byte, so past a third of the
// content base64 is denser.
func preferBase64(content string) bool {
	if content == "" {
		return false
	}

	nonASCII := 0
	for i := 0; i < len(content); i++ {
		if content[i] >= 0x80 {
			nonASCII++
		}
	}

	return nonASCII*3 > len(content)
}

func writeEncodedPart(w *multipart.Writer, body encodedBody) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", body.contentType)
	if body.encoding != "" {
		header.Set("Content-Transfer-Encoding", body.encoding)
	}

	pw, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = pw.Write(body.content)

	return err
}

func writeAttachmentPart(w *multipart.Writer, att Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	disposition := "attachment"
	if att.Inline {
		disposition = "inline"
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": att.Filename}))
	if att.ContentID != "" {
		header.Set("Content-Id", fmt.Sprintf("<%s>", att.ContentID))
	}

	pw, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = pw.Write(encodeBase64Wrapped(att.Content))

	return err
}

// encodeBase64Wrapped base64-encodes data with 76-column CRLF line wrapping.
func encodeBase64Wrapped(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)

	var buf bytes.Buffer
	for len(encoded) > 0 {
		n := min(base64LineLength, len(encoded))
		buf.WriteString(encoded[:n])
		buf.WriteString("\r\n")
		encoded = encoded[n:]
	}

	return buf.Bytes()
}

func writeHeader(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%s: %s\r\n", key, value)
}
