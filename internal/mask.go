package internal

import "strings"

// MaskEmail hides the middle of the local part of an email address.
// "carol@example.com" becomes "c***l@example.com". Local parts of one or two
// characters keep only the first character. Inputs without an "@" are masked
// as opaque strings.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return maskOpaque(email)
	}

	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return local[:1] + "*@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + "@" + domain
}

// MaskPhone keeps the first and last three digits of a phone number.
// Numbers shorter than seven characters are fully starred.
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:3] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-3:]
}

func maskOpaque(s string) string {
	if len(s) <= 1 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-1)
}
