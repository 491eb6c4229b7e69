// Package export renders document snapshots for download. It is a pure
// transformation of (title, content); nothing here touches versioning.
package export

import (
	"bytes"
	"fmt"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

var sanitize = bluemonday.UGCPolicy()

// ToHTML renders markdown content as a standalone, sanitized HTML page.
func ToHTML(title, content string) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(content), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", html.EscapeString(title))
	page.Write(sanitize.SanitizeBytes(body.Bytes()))
	page.WriteString("\n</body>\n</html>\n")
	return page.Bytes(), nil
}

// ToMarkdown returns the raw snapshot.
func ToMarkdown(content string) []byte {
	return []byte(content)
}
