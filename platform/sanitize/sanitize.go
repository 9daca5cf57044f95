// Package sanitize cleans free text before it is stored.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Text strips markup and control characters from user-entered text and returns
// it NFC-normalized and trimmed. Newlines and tabs survive so multi-line notes
// keep their shape. Entities are decoded before a second tag pass, so an encoded
// tag does not slip through.
func Text(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(html.UnescapeString(s), "")
	s = strings.Map(keep, s)
	return strings.TrimSpace(norm.NFC.String(s))
}

// TextPtr applies Text to an optional field.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := Text(*s)
	return &out
}

// keep drops C0 and C1 controls except newline and tab, plus the replacement
// character left behind by invalid UTF-8.
func keep(r rune) rune {
	switch {
	case r == '\n' || r == '\t':
		return r
	case unicode.IsControl(r), r == unicode.ReplacementChar:
		return -1
	}
	return r
}
