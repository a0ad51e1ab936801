package models

import "testing"

func TestCompositeCursorRoundTrip(t *testing.T) {
	cursor := EncodeCompositeCursor("2026-03-01T10:00:00Z", "op-1-shopify-1001")
	date, id := DecodeCompositeCursor(&cursor)
	if date != "2026-03-01T10:00:00Z" || id != "op-1-shopify-1001" {
		t.Fatalf("roundtrip gave (%q, %q)", date, id)
	}
}

func TestDecodeCompositeCursor_Malformed(t *testing.T) {
	for _, raw := range []string{"", "not-base64!!!", EncodeCursor("no-separator")} {
		raw := raw
		date, id := DecodeCompositeCursor(&raw)
		if date != "" || id != "" {
			t.Fatalf("DecodeCompositeCursor(%q) = (%q, %q), expected empty", raw, date, id)
		}
	}
	if date, id := DecodeCompositeCursor(nil); date != "" || id != "" {
		t.Fatalf("nil cursor gave (%q, %q)", date, id)
	}
}

func TestDecodeCursorRoundTrip(t *testing.T) {
	cursor := EncodeCursor("42")
	got, err := DecodeCursor(&cursor)
	if err != nil || got != "42" {
		t.Fatalf("roundtrip gave (%q, %v)", got, err)
	}
	bad := "%%%"
	if _, err := DecodeCursor(&bad); err == nil {
		t.Fatalf("malformed cursor accepted")
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		raw      string
		def, max int
		expected int
	}{
		{"", 20, 100, 20},
		{"abc", 20, 100, 20},
		{"-5", 20, 100, 20},
		{"0", 20, 100, 20},
		{"50", 20, 100, 50},
		{"500", 20, 100, 100},
	}
	for _, tc := range cases {
		if got := ParseLimit(tc.raw, tc.def, tc.max); got != tc.expected {
			t.Errorf("ParseLimit(%q) = %d, expected %d", tc.raw, got, tc.expected)
		}
	}
}
