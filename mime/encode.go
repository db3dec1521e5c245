package mime

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// maxLineLen is the RFC 5322 line limit excluding CRLF.
const maxLineLen = 998

// EncodeBase64 encodes data as base64 split into lines of at most width
// characters joined by CRLF. A width of zero or less yields a single line.
// The result has no trailing CRLF.
func EncodeBase64(data []byte, width int) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	if width <= 0 || len(encoded) <= width {
		return encoded
	}

	var b strings.Builder
	b.Grow(len(encoded) + 2*(len(encoded)/width))
	for len(encoded) > width {
		b.WriteString(encoded[:width])
		b.WriteString("\r\n")
		encoded = encoded[width:]
	}
	b.WriteString(encoded)
	return b.String()
}

// NewBoundary returns a multipart boundary that occurs in none of contents.
func NewBoundary(contents ...[]byte) string {
	for {
		boundary := "courier-" + uuid.NewString()
		collides := false
		for _, c := range contents {
			if bytes.Contains(c, []byte(boundary)) {
				collides = true
				break
			}
		}
		if !collides {
			return boundary
		}
	}
}

// needsQuotedPrintable reports whether text cannot travel as 7bit.
func needsQuotedPrintable(text string) bool {
	lineLen := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c > 127 || c == 0 {
			return true
		}
		switch c {
		case '\n':
			lineLen = 0
			continue
		case '\r':
			continue
		}
		lineLen++
		if lineLen > maxLineLen {
			return true
		}
	}
	return false
}
