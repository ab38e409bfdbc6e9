package textutil

import "strings"

// SanitizeFileName makes name safe as a single path element. Separators and
// characters that read as separators (/ \ : *) become "-"; ? " < > | are
// dropped; surrounding whitespace is trimmed.
func SanitizeFileName(name string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*':
			return '-'
		case '?', '"', '<', '>', '|':
			return -1
		}
		return r
	}, name))
}

// JoinName builds "first - second" from sanitized parts, dropping empty ones.
func JoinName(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		clean := SanitizeFileName(part)
		if clean == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" - ")
		}
		b.WriteString(clean)
	}
	return b.String()
}
