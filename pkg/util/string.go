package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most n runes, appending an ellipsis when cut
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	runes := []rune(s)
	if n == 1 {
		return string(runes[:1])
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}

// FirstLine returns the first non-empty line of s
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
