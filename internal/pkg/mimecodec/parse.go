package mimecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message/charset"

	"github.com/shandysiswandi/courier/internal/pkg/goerror"
)

// maxPartDepth bounds multipart nesting to keep hostile input from recursing.
const maxPartDepth = 10

var (
	// ErrDecodedSizeExceeded is returned when decoded parts exceed the cap.
	ErrDecodedSizeExceeded = errors.New("mimecodec: decoded size exceeds limit")
	// ErrNestingTooDeep is returned when multipart nesting exceeds maxPartDepth.
	ErrNestingTooDeep = errors.New("mimecodec: multipart nesting too deep")
)

// sizeBudget tracks the remaining decoded-byte allowance across all parts.
type sizeBudget struct {
	remaining int64
}

// readAll drains r within the remaining budget.
func (b *sizeBudget) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, b.remaining+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > b.remaining {
		return nil, ErrDecodedSizeExceeded
	}
	b.remaining -= int64(len(data))

	return data, nil
}

// Parse decodes a raw RFC 5322 message. A missing or malformed multipart
// boundary degrades to a single-part text body instead of failing; exceeding
// the decoded-size cap is an error.
func (c *Codec) Parse(raw []byte) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, goerror.NewParse(err, "malformed message headers")
	}

	dec := &mime.WordDecoder{CharsetReader: charset.Reader}

	parsed := &ParsedEmail{
		Headers:      textproto.MIMEHeader(msg.Header),
		Subject:      decodeHeader(dec, msg.Header.Get("Subject")),
		From:         firstAddress(msg.Header.Get("From")),
		To:           parseAddressList(msg.Header.Get("To")),
		Cc:           parseAddressList(msg.Header.Get("Cc")),
		InlineImages: map[string][]byte{},
		Charsets:     map[string]string{},
	}

	budget := &sizeBudget{remaining: c.maxDecodedSize}

	body, err := budget.readAll(msg.Body)
	if err != nil {
		return nil, goerror.NewParse(err, "message body too large")
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Unparseable content type, treat the whole body as plain text.
		parsed.TextContent = string(body)
		parsed.Charsets["text/plain"] = "utf-8"
		return parsed, nil
	}

	encoding := msg.Header.Get("Content-Transfer-Encoding")

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			parsed.TextContent = string(toUTF8(params["charset"], body))
			parsed.Charsets["text/plain"] = declaredCharset(params)
			return parsed, nil
		}

		parts, err := c.walkMultipart(bytes.NewReader(body), boundary, parsed, budget, 0)
		if errors.Is(err, ErrDecodedSizeExceeded) {
			return nil, goerror.NewParse(err, "message body too large")
		}
		if err != nil || parts == 0 {
			// Malformed boundary content, or the declared boundary never
			// appears in the body. Degrade to a single text part.
			parsed.TextContent = string(toUTF8(params["charset"], body))
			parsed.HTMLContent = ""
			parsed.Attachments = nil
			parsed.InlineImages = map[string][]byte{}
			parsed.Charsets = map[string]string{"text/plain": declaredCharset(params)}
		}

		return parsed, nil
	}

	decoded, err := decodeTransfer(encoding, body)
	if err != nil {
		return nil, goerror.NewParse(err, "malformed transfer encoding")
	}
	c.assignSinglePart(parsed, dec, mediaType, params, textproto.MIMEHeader(msg.Header), decoded)

	return parsed, nil
}

// walkMultipart recurses into a multipart body, collecting text bodies,
// inline images and attachments. It returns the number of leaf parts
// consumed so the caller can tell an empty walk from a populated one.
func (c *Codec) walkMultipart(r io.Reader, boundary string, parsed *ParsedEmail, budget *sizeBudget, depth int) (int, error) {
	if depth >= maxPartDepth {
		return 0, ErrNestingTooDeep
	}

	dec := &mime.WordDecoder{CharsetReader: charset.Reader}
	reader := multipart.NewReader(r, boundary)

	parts := 0
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nested := params["boundary"]
			if nested == "" {
				continue
			}
			n, err := c.walkMultipart(part, nested, parsed, budget, depth+1)
			parts += n
			if err != nil {
				return parts, err
			}
			continue
		}

		raw, err := budget.readAll(part)
		if err != nil {
			return parts, err
		}

		// multipart.Part transparently decodes quoted-printable; base64
		// still needs an explicit pass.
		content, err := decodeTransfer(part.Header.Get("Content-Transfer-Encoding"), raw)
		if err != nil {
			continue
		}

		c.assignSinglePart(parsed, dec, mediaType, params, part.Header, content)
		parts++
	}
}

// assignSinglePart routes one decoded leaf part into the parsed result.
func (c *Codec) assignSinglePart(parsed *ParsedEmail, dec *mime.WordDecoder, mediaType string, params map[string]string, header textproto.MIMEHeader, content []byte) {
	disposition, dispParams, _ := mime.ParseMediaType(header.Get("Content-Disposition"))
	contentID := strings.Trim(header.Get("Content-Id"), "<>")

	if disposition == "inline" && contentID != "" {
		parsed.InlineImages[contentID] = content
		return
	}

	filename := decodeHeader(dec, partFilename(dispParams, params))

	if disposition == "attachment" || (filename != "" && !strings.HasPrefix(mediaType, "text/")) {
		parsed.Attachments = append(parsed.Attachments, Attachment{
			Filename:    filename,
			ContentType: mediaType,
			ContentID:   contentID,
			Content:     content,
			Size:        int64(len(content)),
		})
		return
	}

	switch mediaType {
	case "text/plain":
		if parsed.TextContent == "" {
			parsed.TextContent = string(toUTF8(params["charset"], content))
			parsed.Charsets[mediaType] = declaredCharset(params)
		}
	case "text/html":
		if parsed.HTMLContent == "" {
			parsed.HTMLContent = string(toUTF8(params["charset"], content))
			parsed.Charsets[mediaType] = declaredCharset(params)
		}
	default:
		parsed.Attachments = append(parsed.Attachments, Attachment{
			Filename:    fallbackFilename(filename, mediaType),
			ContentType: mediaType,
			ContentID:   contentID,
			Content:     content,
			Size:        int64(len(content)),
		})
	}
}

// declaredCharset normalizes the charset parameter of a text part.
func declaredCharset(params map[string]string) string {
	cs := strings.ToLower(strings.TrimSpace(params["charset"]))
	if cs == "" {
		return "utf-8"
	}

	return cs
}

// decodeTransfer reverses the Content-Transfer-Encoding of a part body.
func decodeTransfer(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, err
			}
		}
		return decoded, nil
	case "quoted-printable":
		// Leaf parts never hit this branch, the multipart reader decodes
		// quoted-printable and strips the header. Single-part bodies do.
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
	default:
		// 7bit, 8bit and binary need no decoding.
		return raw, nil
	}
}

func decodeHeader(dec *mime.WordDecoder, value string) string {
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}

	return decoded
}

func firstAddress(raw string) string {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}

	return addr.Address
}

func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}

	return result
}

// partFilename prefers the Content-Disposition filename over the legacy
// Content-Type name parameter.
func partFilename(dispParams, typeParams map[string]string) string {
	if fn := dispParams["filename"]; fn != "" {
		return fn
	}

	return typeParams["name"]
}

func fallbackFilename(filename, mediaType string) string {
	if filename != "" {
		return filename
	}
	if _, subtype, ok := strings.Cut(mediaType, "/"); ok {
		return "attachment." + subtype
	}

	return "attachment"
}
