// Package io frames the SMTP byte stream into CRLF-terminated lines.
package io

import (
	"bufio"
	"errors"
	"strings"
)

// MaxReplyLineLen bounds a single reply line including CRLF. RFC 5321
// allows 512 octets; servers in the wild exceed that, so the limit is generous.
const MaxReplyLineLen = 2048

var (
	ErrLineTooLong    = errors.New("smtp: line too long")
	ErrBadLineEnding  = errors.New("smtp: line not terminated by CRLF")
	Err8BitIn7BitMode = errors.New("smtp: 8-bit data in 7BIT mode")
	ErrLineBreak      = errors.New("smtp: CR or LF inside line")
)

// ReadLine reads a single SMTP line with strict CRLF and length enforcement.
// When enforce7bit is set, lines carrying octets above 127 are rejected.
// The returned line does not include the CRLF.
func ReadLine(reader *bufio.Reader, max int, enforce7bit bool) (string, error) {
	// Fast path: the whole line fits in the bufio buffer.
	line, err := reader.ReadSlice('\n')
	if err == nil {
		if enforce7bit && !isASCII(line) {
			return "", Err8BitIn7BitMode
		}
		return validateAndConvert(line, max)
	}

	if err != bufio.ErrBufferFull {
		return "", err
	}

	// Slow path: accumulate chunks. ReadSlice reuses its buffer, so copy.
	if enforce7bit && !isASCII(line) {
		drainLine(reader)
		return "", Err8BitIn7BitMode
	}
	buf := append([]byte(nil), line...)

	for {
		line, err = reader.ReadSlice('\n')

		if len(buf)+len(line) > max {
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return "", ErrLineTooLong
		}

		if enforce7bit && !isASCII(line) {
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return "", Err8BitIn7BitMode
		}

		buf = append(buf, line...)

		if err == nil {
			break
		}

		if err != bufio.ErrBufferFull {
			return "", err
		}
	}

	return validateAndConvert(buf, max)
}

// WriteLine writes line followed by CRLF and flushes the writer.
func WriteLine(w *bufio.Writer, line string) error {
	if err := CheckLine(line); err != nil {
		return err
	}
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// CheckLine rejects a line that would be split in two on the wire.
func CheckLine(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return ErrLineBreak
	}
	return nil
}

// validateAndConvert checks length, CRLF, and converts to string.
func validateAndConvert(b []byte, max int) (string, error) {
	if len(b) > max {
		return "", ErrLineTooLong
	}

	// b ends in '\n' because ReadSlice returned it.
	if len(b) < 2 || b[len(b)-2] != '\r' {
		return "", ErrBadLineEnding
	}

	return string(b[:len(b)-2]), nil
}

// isASCII checks if the byte array contains any octet is not US-ASCII
func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 127 {
			return false
		}
	}
	return true
}

// drainLine discards the rest of the current line to recover protocol synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if err != bufio.ErrBufferFull {
			return
		}
	}
}
