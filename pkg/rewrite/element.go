package rewrite

import (
	"bytes"

	"golang.org/x/net/html"
)

// Element is one matched element: its start tag plus everything up to and
// including its matching end tag. It is only valid inside the handler call
// it was passed to.
type Element struct {
	tag         string
	attrs       []html.Attribute
	selfClosing bool

	// startRaw is the start tag exactly as it appeared in the input.
	startRaw []byte
	// content is the raw inner markup followed by the end tag, if any.
	content []byte

	modified bool
	removed  bool
}

// Attribute returns the unescaped value of the named attribute.
func (e *Element) Attribute(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttribute sets or replaces the named attribute.
func (e *Element) SetAttribute(name, value string) {
	e.modified = true
	for i, a := range e.attrs {
		if a.Namespace == "" && a.Key == name {
			e.attrs[i].Val = value
			return
		}
	}
	e.attrs = append(e.attrs, html.Attribute{Key: name, Val: value})
}

// Remove drops the element and its content from the output.
func (e *Element) Remove() {
	e.removed = true
}

// reset discards any mutation so the element renders as it was read.
func (e *Element) reset() {
	e.modified = false
	e.removed = false
}

// render returns the element's output bytes.
// Unmodified elements are emitted byte-for-byte as read.
func (e *Element) render() []byte {
	if e.removed {
		return nil
	}
	if !e.modified {
		out := make([]byte, 0, len(e.startRaw)+len(e.content))
		out = append(out, e.startRaw...)
		return append(out, e.content...)
	}

	tokenType := html.StartTagToken
	if e.selfClosing {
		tokenType = html.SelfClosingTagToken
	}
	start := html.Token{Type: tokenType, Data: e.tag, Attr: e.attrs}

	var buf bytes.Buffer
	buf.Grow(len(e.startRaw) + len(e.content) + 64)
	buf.WriteString(start.String())
	buf.Write(e.content)
	return buf.Bytes()
}

// outcome labels how the element was rendered.
func (e *Element) outcome() string {
	switch {
	case e.removed:
		return "removed"
	case e.modified:
		return "modified"
	default:
		return "unchanged"
	}
}
