package message

// Body is the textual content of an Email. It is one of PlainBody,
// HTMLBody or UniversalBody.
type Body interface {
	isBody()
}

// PlainBody is a text/plain body.
type PlainBody struct {
	Text string
}

// HTMLBody is a text/html body.
type HTMLBody struct {
	HTML string
}

// UniversalBody carries both renditions; it is sent as
// multipart/alternative.
type UniversalBody struct {
	Text string
	HTML string
}

func (PlainBody) isBody()     {}
func (HTMLBody) isBody()      {}
func (UniversalBody) isBody() {}
