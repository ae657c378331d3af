// Package textutil normalises free text captured from customers and operators.
package textutil

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips markup, unescapes entities, collapses whitespace and truncates the result to
// maxRunes runes when maxRunes is positive.
func PlainText(value string, maxRunes int) string {
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

// Digits keeps only the decimal digits of value, e.g. "(11) 98765-4321" becomes "11987654321".
func Digits(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < utf8.RuneSelf {
			return r
		}
		return -1
	}, value)
}

// LogSafe drops control characters and keeps at most maxRunes runes so request data can be
// written to structured logs without forging entries.
func LogSafe(value string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		cleaned = string([]rune(cleaned)[:maxRunes])
	}
	return cleaned
}
