package courier

import (
	"strconv"
	"strings"
)

// Extension is an ESMTP service extension keyword.
type Extension string

const (
	ExtSTARTTLS            Extension = "STARTTLS"
	ExtAuth                Extension = "AUTH"
	ExtSize                Extension = "SIZE"
	Ext8BitMIME            Extension = "8BITMIME"
	ExtPipelining          Extension = "PIPELINING"
	ExtSMTPUTF8            Extension = "SMTPUTF8"
	ExtEnhancedStatusCodes Extension = "ENHANCEDSTATUSCODES"
)

// Capabilities is what the server advertised in its EHLO reply. The zero
// value describes a server greeted with HELO: no extensions.
type Capabilities struct {
	// ESMTP is true when EHLO succeeded.
	ESMTP bool
	// Domain is the server identity from the first EHLO line.
	Domain     string
	extensions map[Extension]string
}

// parseCapabilities reads the extension lines of a successful EHLO reply.
// The first line is the server greeting and carries no extension.
func parseCapabilities(r *Reply) Capabilities {
	caps := Capabilities{
		ESMTP:      true,
		extensions: make(map[Extension]string),
	}
	if len(r.Lines) == 0 {
		return caps
	}
	caps.Domain, _, _ = strings.Cut(r.Lines[0], " ")

	for _, line := range r.Lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Some servers still advertise "AUTH=LOGIN PLAIN".
		name, params, _ := strings.Cut(line, " ")
		if n, p, ok := strings.Cut(name, "="); ok {
			name = n
			params = strings.TrimSpace(p + " " + params)
		}
		ext := Extension(strings.ToUpper(name))
		if existing, ok := caps.extensions[ext]; ok && existing != "" && params != "" {
			params = existing + " " + params
		}
		caps.extensions[ext] = params
	}
	return caps
}

// Has reports whether the server advertised ext.
func (c Capabilities) Has(ext Extension) bool {
	_, ok := c.extensions[ext]
	return ok
}

// Param returns the parameters advertised with ext.
func (c Capabilities) Param(ext Extension) string {
	return c.extensions[ext]
}

// AuthMechanisms returns the advertised SASL mechanisms in upper case.
func (c Capabilities) AuthMechanisms() []string {
	fields := strings.Fields(c.Param(ExtAuth))
	for i, f := range fields {
		fields[i] = strings.ToUpper(f)
	}
	return fields
}

// MaxSize returns the SIZE limit (RFC 1870). ok is false when SIZE was not
// advertised or declared no limit.
func (c Capabilities) MaxSize() (size int64, ok bool) {
	param, present := c.extensions[ExtSize]
	if !present {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(param), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
