package mimecodec

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Register legacy charsets commonly seen in the wild that the base
	// registry does not cover under these labels.
	charset.RegisterEncoding("windows-1250", charmap.Windows1250)
	charset.RegisterEncoding("windows-1251", charmap.Windows1251)
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-2", charmap.ISO8859_2)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
	charset.RegisterEncoding("koi8-r", charmap.KOI8R)
}

// toUTF8 converts content from the named charset to UTF-8. Unknown charsets
// and conversion failures return the content unchanged.
func toUTF8(name string, content []byte) []byte {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf-8" || name == "us-ascii" || name == "ascii" {
		return content
	}

	r, err := charset.Reader(name, bytes.NewReader(content))
	if err != nil {
		return content
	}

	converted, err := io.ReadAll(r)
	if err != nil {
		return content
	}

	return converted
}
