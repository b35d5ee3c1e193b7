package utils

import (
	"strings"
	"unicode"
)

// SanitizeString drops control characters other than line breaks and tabs
// and trims surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// NormalizeEmail lowercases and trims a handler address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
