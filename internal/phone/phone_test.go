package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigits(t *testing.T) {
	assert.Equal(t, "5511987654321", Digits("+55 (11) 98765-4321"))
	assert.Equal(t, "", Digits("no digits here"))
	assert.Equal(t, "12345", Digits("12345"))
}

func TestCanonical(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		country string
		want    string
	}{
		{"domestic 11 digits gets country code", "(11) 98765-4321", "55", "5511987654321"},
		{"domestic 10 digits gets country code", "1187654321", "55", "551187654321"},
		{"already prefixed stays unchanged", "5511987654321", "55", "5511987654321"},
		{"idempotent", Canonical("11987654321", "55"), "55", "5511987654321"},
		{"one digit code gets prefixed", "2125551234", "1", "12125551234"},
		{"one digit code idempotent", Canonical("2125551234", "1"), "1", "12125551234"},
		{"short number starting with code still prefixed", "187654321 0", "1", "11876543210"},
		{"no country code configured", "11987654321", "", "11987654321"},
		{"empty input", "  ", "55", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Canonical(tc.in, tc.country))
		})
	}
}

func TestSuffix10(t *testing.T) {
	assert.Equal(t, "1198765432", Suffix10("551198765432"))
	assert.Equal(t, "87654321", Suffix10("87654321"))
	assert.Equal(t, "1987654321", Suffix10("+55 11 98765-4321"))
}
