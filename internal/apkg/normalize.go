package apkg

import (
	"regexp"
	"strings"
)

// FieldSeparator separates note fields inside the notes.flds column.
const FieldSeparator = "\x1f"

var (
	lineBreakTagPattern = regexp.MustCompile(`(?i)<br\s*/?>`)
	markupTagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// SplitFields splits a raw note payload into its fields.
func SplitFields(fields string) []string {
	return strings.Split(fields, FieldSeparator)
}

// StripHTML converts line-break tags to newlines, removes every other tag and trims the result.
func StripHTML(html string) string {
	withBreaks := lineBreakTagPattern.ReplaceAllString(html, "\n")
	return strings.TrimSpace(markupTagPattern.ReplaceAllString(withBreaks, ""))
}

// NormalizeNote cleans a raw note payload. The boolean is false when both sides are empty.
func NormalizeNote(fields, tags string) (Note, bool) {
	parts := SplitFields(fields)
	note := Note{
		Front: StripHTML(fieldAt(parts, 0)),
		Back:  StripHTML(fieldAt(parts, 1)),
		Tags:  strings.TrimSpace(tags),
	}
	if note.Front == "" && note.Back == "" {
		return Note{}, false
	}
	return note, true
}

func fieldAt(parts []string, index int) string {
	if index < len(parts) {
		return parts[index]
	}
	return ""
}
