package utils

import "strings"

// Pointer returns a pointer to the given value
func Pointer[T any](v T) *T {
	return &v
}

// NormalizePhone reduces a phone number or gateway address to its canonical
// digit-only form. Handles gateway JIDs ("15551234567@c.us"), the
// international "+" prefix and the "00" dialing prefix, and strips
// formatting punctuation.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, "00") {
		s = s[2:]
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneVariants returns the small set of equivalent representations a stored
// recipient may have for the given normalized number.
func PhoneVariants(normalized string) []string {
	if normalized == "" {
		return nil
	}
	variants := []string{normalized, "+" + normalized, "00" + normalized}
	return variants
}
