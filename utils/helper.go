package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ttacon/libphonenumber"
)

var DefaultPhoneRegion = "PT"

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

// NormalizePhone returns the E.164 form of a phone number so that the same
// customer phone written with spaces, dashes or a missing country prefix
// still compares equal. Falls back to a digits-only form when the number
// cannot be parsed.
func NormalizePhone(phoneNumber, countryCode string) string {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return ""
	}
	if countryCode == "" {
		countryCode = DefaultPhoneRegion
	}
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err == nil && libphonenumber.IsValidNumber(p) {
		return libphonenumber.Format(p, libphonenumber.E164)
	}
	var b strings.Builder
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && b.Len() == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func NewTrue() *bool {
	t := true
	return &t
}

func NewFalse() *bool {
	f := false
	return &f
}

// TitleCase normalizes city/country style fields: trimmed, single spaces,
// first letter of each word upper-cased.
func TitleCase(s string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
