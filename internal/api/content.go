package api

import (
	"log/slog"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var htmlTag = regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(\s[^>]*)?/?>`)

// normalizeContent converts comment bodies written in the backend's rich
// text editor to markdown. Plain text passes through unchanged.
func normalizeContent(content string) string {
	if !htmlTag.MatchString(content) {
		return content
	}
	md, err := htmltomarkdown.ConvertString(content)
	if err != nil {
		slog.Debug("comment content left as html", "error", err)
		return content
	}
	return strings.TrimSpace(md)
}
