package courier

import (
	"strconv"
	"strings"
)

// Reply is one complete, possibly multiline, server response.
type Reply struct {
	Code int
	// Lines holds the text of each line without the code and separator.
	Lines []string
	// EnhancedCode is the RFC 3463 status code from the first line, if any.
	EnhancedCode string
}

// Message joins the reply lines with newlines.
func (r *Reply) Message() string {
	return strings.Join(r.Lines, "\n")
}

// String returns the code followed by the reply lines.
func (r *Reply) String() string {
	if r == nil {
		return ""
	}
	return strconv.Itoa(r.Code) + " " + strings.Join(r.Lines, " / ")
}

// IsSuccess returns true if the response indicates success (2xx).
func (r *Reply) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

// IsIntermediate returns true if the response is intermediate (3xx).
func (r *Reply) IsIntermediate() bool {
	return r.Code >= 300 && r.Code < 400
}

// IsTransient returns true if the response indicates a transient error (4xx).
func (r *Reply) IsTransient() bool {
	return r.Code >= 400 && r.Code < 500
}

// IsPermanent returns true if the response indicates a permanent error (5xx).
func (r *Reply) IsPermanent() bool {
	return r.Code >= 500 && r.Code < 600
}

// parseEnhancedCode extracts an X.Y.Z status code prefix from msg.
func parseEnhancedCode(msg string) string {
	code, _, _ := strings.Cut(msg, " ")
	subparts := strings.Split(code, ".")
	if len(subparts) != 3 {
		return ""
	}
	if subparts[0] != "2" && subparts[0] != "4" && subparts[0] != "5" {
		return ""
	}
	for _, p := range subparts {
		if p == "" {
			return ""
		}
		if _, err := strconv.Atoi(p); err != nil {
			return ""
		}
	}
	return code
}
