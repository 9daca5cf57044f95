package rules

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*\.?([A-Za-z0-9_.-]+)\s*\}\}`)

// Render replaces {{.field}} placeholders with values from r. Unknown fields render empty.
func Render(text string, r Record) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		field := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := r.Lookup(field)
		if !ok || v == nil {
			return ""
		}
		return stringify(v)
	})
}

// IsPlaceholder reports whether s is exactly one {{.field}} placeholder.
func IsPlaceholder(s string) bool {
	loc := placeholderPattern.FindStringIndex(strings.TrimSpace(s))
	return loc != nil && loc[0] == 0 && loc[1] == len(strings.TrimSpace(s))
}
