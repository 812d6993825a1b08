package api

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark"
)

// renderMarkdown converts an assistant reply to HTML. Raw HTML in the
// reply is dropped by goldmark's default renderer.
func renderMarkdown(md string) string {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return html.EscapeString(md)
	}
	return buf.String()
}
