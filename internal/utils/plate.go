package utils

import "strings"

// NormalizePlate upper-cases s and drops every character outside [A-Z0-9],
// so "29A-123.45" and OCR output "29A12345" compare equal.
func NormalizePlate(s string) string {
	return keep(s, false)
}

// SanitizeRawPlate is NormalizePlate but keeps '-', which OCR may read on
// the plate and which is only removed at normalization.
func SanitizeRawPlate(s string) string {
	return keep(s, true)
}

func keep(s string, hyphen bool) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case hyphen && c == '-':
			b.WriteByte(c)
		}
	}
	return b.String()
}

// FilterAlphabet drops runes of s that are not in alphabet. An empty
// alphabet leaves s untouched.
func FilterAlphabet(s, alphabet string) string {
	if alphabet == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(alphabet, r) {
			return r
		}
		return -1
	}, s)
}
