package domain

import (
	"errors"
	"strings"
	"unicode/utf16"
)

var ErrNotExportable = errors.New("only completed notes can be exported")

// ExportFileName replaces every character outside [A-Za-z0-9] with '_',
// lower-cases the result and appends ".md". Characters outside the BMP
// count as two, so an emoji becomes "__".
func ExportFileName(title string) string {
	var b strings.Builder
	b.Grow(len(title) + 3)
	for _, r := range title {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r | 0x20)
			continue
		}
		n := utf16.RuneLen(r)
		if n < 1 {
			n = 1
		}
		b.WriteString(strings.Repeat("_", n))
	}
	b.WriteString(".md")
	return b.String()
}

// Export returns the download name and the raw markdown of a completed note.
func Export(n Note) (string, []byte, error) {
	if n.Status != NoteStatusCompleted || n.Title == nil || n.MarkdownContent == nil {
		return "", nil, ErrNotExportable
	}
	return ExportFileName(*n.Title), []byte(*n.MarkdownContent), nil
}
