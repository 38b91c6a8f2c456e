package ir

import (
	"strings"
	"unicode/utf8"
)

// SanitizeText strips invalid UTF-8 sequences and control characters
// (except tab, newline, carriage return) from text headed for an API
// payload. Clients occasionally relay terminal escape bytes or truncated
// multi-byte runes; the upstream rejects the whole request over them.
func SanitizeText(s string) string {
	if s == "" || (utf8.ValidString(s) && !hasControlChars(s)) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if r == 0 || (r < 0x20 && r != '\t' && r != '\n' && r != '\r') {
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

func hasControlChars(s string) bool {
	for _, r := range s {
		if r == 0 || (r < 0x20 && r != '\t' && r != '\n' && r != '\r') {
			return true
		}
	}
	return false
}
