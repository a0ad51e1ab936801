package utils

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"+351 912 345 678", "+351912345678"},
		{"912 345 678", "+351912345678"},
		{"912-345-678", "+351912345678"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in, ""); got != tc.expected {
			t.Errorf("NormalizePhone(%q) = %q, expected %q", tc.in, got, tc.expected)
		}
	}
}

func TestNormalizePhone_FallbackDigitsOnly(t *testing.T) {
	// Unparseable numbers keep their digits so equal inputs still match.
	got := NormalizePhone("ext. 12 / 34", "")
	if got != "1234" {
		t.Fatalf("fallback = %q, expected 1234", got)
	}
}

func TestTitleCase(t *testing.T) {
	cases := []struct{ in, expected string }{
		{"lisbon", "Lisbon"},
		{"  VIANA   do CASTELO ", "Viana Do Castelo"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := TitleCase(tc.in); got != tc.expected {
			t.Errorf("TitleCase(%q) = %q, expected %q", tc.in, got, tc.expected)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	if !IsValidEmail("maria@example.com") {
		t.Errorf("valid email rejected")
	}
	if IsValidEmail("not-an-email") {
		t.Errorf("invalid email accepted")
	}
}
