package transcript

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Render writes entries as a plain-text chat transcript: separators are
// centered, the viewer's own messages are right-aligned.
func Render(w io.Writer, entries []Entry, width int) error {
	if width <= 0 {
		width = 72
	}
	for _, e := range entries {
		var lines []string
		switch e := e.(type) {
		case DateSeparator:
			lines = []string{"", center("── "+e.Label+" ──", width)}
		case CommentEntry:
			lines = commentLines(e, width)
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func commentLines(e CommentEntry, width int) []string {
	c := e.Comment
	header := c.AuthorName
	if e.Alignment == AlignSelf {
		header = "You"
	}
	if e.ShowBadge {
		header += " [HR]"
	}
	at := e.LocalTime
	if at.IsZero() {
		at = c.CreatedAt
	}
	header += " · " + at.Format("15:04")
	if c.Provisional() {
		header += " · sending"
	}

	lines := []string{header}
	for _, l := range strings.Split(c.Text, "\n") {
		lines = append(lines, "  "+l)
	}
	for _, a := range c.Attachments {
		lines = append(lines, "  📎 "+a.DisplayName)
	}

	if e.Alignment == AlignSelf {
		for i, l := range lines {
			lines[i] = right(l, width)
		}
	}
	return lines
}

func center(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return strings.Repeat(" ", (width-n)/2) + s
}

func right(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return strings.Repeat(" ", width-n) + s
}
