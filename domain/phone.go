package domain

import "strings"

// NormalizePhone reduces a submitted phone number to the canonical
// "+<digits>" form used by the phone index: every non-digit is dropped
// and a single leading plus is added back. The function is idempotent,
// so an already normalized number passes through unchanged.
// An input without any digit normalizes to the empty string.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "+" + b.String()
}
