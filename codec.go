package courier

import (
	"bytes"
	"fmt"
	"strings"
)

// ReplyDecoder assembles CRLF-framed reply lines into Replies. A decoder
// holds the lines of at most one reply in progress.
type ReplyDecoder struct {
	pending *Reply
}

// Decode consumes one line (without CRLF). It returns the completed Reply
// when line is the final line of a reply and nil while continuation lines
// are still expected. Malformed lines yield a *ProtocolError and reset the
// decoder.
func (d *ReplyDecoder) Decode(line string) (*Reply, error) {
	code, final, text, err := parseReplyLine(line)
	if err != nil {
		d.pending = nil
		return nil, err
	}

	if d.pending == nil {
		d.pending = &Reply{Code: code}
	} else if d.pending.Code != code {
		prev := d.pending.Code
		d.pending = nil
		return nil, &ProtocolError{
			Kind: MalformedReply,
			Line: line,
			Err:  fmt.Errorf("reply code %d follows continuation with code %d", code, prev),
		}
	}
	d.pending.Lines = append(d.pending.Lines, text)

	if !final {
		return nil, nil
	}

	reply := d.pending
	d.pending = nil
	reply.EnhancedCode = parseEnhancedCode(reply.Lines[0])
	return reply, nil
}

// InProgress reports whether continuation lines have been consumed without
// their final line.
func (d *ReplyDecoder) InProgress() bool {
	return d.pending != nil
}

// parseReplyLine splits "250-text", "250 text" or "250" into its parts.
func parseReplyLine(line string) (code int, final bool, text string, err error) {
	malformed := func(reason string) error {
		return &ProtocolError{Kind: MalformedReply, Line: line, Err: fmt.Errorf("%s", reason)}
	}

	if len(line) < 3 {
		return 0, false, "", malformed("reply line too short")
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return 0, false, "", malformed("non-numeric reply code")
		}
	}
	if line[0] < '2' || line[0] > '5' {
		return 0, false, "", malformed("reply code out of range")
	}
	code = int(line[0]-'0')*100 + int(line[1]-'0')*10 + int(line[2]-'0')

	if len(line) == 3 {
		return code, true, "", nil
	}
	switch line[3] {
	case ' ':
		final = true
	case '-':
		final = false
	default:
		return 0, false, "", malformed("invalid separator after reply code")
	}
	return code, final, line[4:], nil
}

// EncodeCommand serializes a command as VERB[ SP ARGS]. The CRLF is added by
// the transport.
func EncodeCommand(verb string, args ...string) string {
	if len(args) == 0 {
		return verb
	}
	return verb + " " + strings.Join(args, " ")
}

// DotStuff prefixes every line that starts with '.' with another '.'
// (RFC 5321 Section 4.5.2).
func DotStuff(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte(".")) && !bytes.Contains(data, []byte("\n.")) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 16)
	atLineStart := true
	for _, b := range data {
		if atLineStart && b == '.' {
			buf.WriteByte('.')
		}
		buf.WriteByte(b)
		atLineStart = b == '\n'
	}
	return buf.Bytes()
}

// EncodeData produces the bytes sent after a 354 reply: the dot-stuffed
// payload, a CRLF if the payload does not already end with one, and the
// terminating ".\r\n".
func EncodeData(payload []byte) []byte {
	stuffed := DotStuff(payload)

	out := make([]byte, 0, len(stuffed)+5)
	out = append(out, stuffed...)
	if len(out) > 0 && !bytes.HasSuffix(out, []byte("\r\n")) {
		out = append(out, '\r', '\n')
	}
	return append(out, '.', '\r', '\n')
}
