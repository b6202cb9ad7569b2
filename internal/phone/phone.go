// Package phone normalizes contact identities so that webhook payloads,
// CRM records and outbound requests agree on a single representation.
package phone

import "strings"

// Digits strips everything except ASCII digits.
func Digits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Canonical returns the digits-only form of a phone number with a country
// code prefixed when the input looks like a domestic number. 10 and 11
// digit values get the country code; longer values are assumed to carry
// one already. A value that already starts with the country code and
// leaves a full domestic number after it is never prefixed again, so the
// function is idempotent for any code length.
func Canonical(value, countryCode string) string {
	digits := Digits(value)
	if digits == "" {
		return ""
	}
	if countryCode == "" {
		return digits
	}
	if len(digits) == 10 || len(digits) == 11 {
		if strings.HasPrefix(digits, countryCode) && len(digits)-len(countryCode) >= 10 {
			return digits
		}
		return countryCode + digits
	}
	return digits
}

// Suffix10 returns the last 10 digits, used for matching numbers stored
// with and without a country code.
func Suffix10(value string) string {
	digits := Digits(value)
	if len(digits) <= 10 {
		return digits
	}
	return digits[len(digits)-10:]
}
