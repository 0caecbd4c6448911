package util

import "strings"

// NormalizePhone strips everything but digits and keeps the trailing nine
// digits (national format without country code), matching what the
// reservation backend stores.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 9 {
		return digits[len(digits)-9:]
	}
	return digits
}

// MaskPhone hides all but the last four digits of a phone number for logging.
func MaskPhone(phone string) string {
	digits := NormalizePhone(phone)
	if len(digits) <= 4 {
		return "***"
	}
	return "***" + digits[len(digits)-4:]
}
