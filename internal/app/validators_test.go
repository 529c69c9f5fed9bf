package app

import "testing"

func TestParseAmountKobo(t *testing.T) {
	const minKobo, maxKobo = 5_000, 5_000_000 // ₦50 to ₦50,000

	valid := []struct {
		input string
		want  int64
	}{
		{"500", 50_000},
		{"₦500", 50_000},
		{"1,000", 100_000},
		{"500.50", 50_050},
		{"500.5", 50_050},
		{" 50 ", 5_000},
	}
	for _, tc := range valid {
		got, err := parseAmountKobo(tc.input, minKobo, maxKobo)
		if err != nil {
			t.Errorf("parseAmountKobo(%q) returned error: %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseAmountKobo(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}

	invalid := []string{"", "abc", "12.345", "500.", "-100", "0", "30", "60000", "1e3"}
	for _, input := range invalid {
		if _, err := parseAmountKobo(input, minKobo, maxKobo); err == nil {
			t.Errorf("parseAmountKobo(%q) should fail", input)
		}
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	valid := []struct {
		input string
		want  string
	}{
		{"08031234567", "08031234567"},
		{"0803 123 4567", "08031234567"},
		{"0803-123-4567", "08031234567"},
		{"+2348031234567", "08031234567"},
		{"2348031234567", "08031234567"},
		{"07012345678", "07012345678"},
		{"09112345678", "09112345678"},
	}
	for _, tc := range valid {
		got, err := normalizePhoneNumber(tc.input)
		if err != nil {
			t.Errorf("normalizePhoneNumber(%q) returned error: %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("normalizePhoneNumber(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}

	invalid := []string{"", "0803123456", "080312345678", "06031234567", "0823", "abc", "1231234567"}
	for _, input := range invalid {
		if _, err := normalizePhoneNumber(input); err == nil {
			t.Errorf("normalizePhoneNumber(%q) should fail", input)
		}
	}
}

func TestAccountOTPAndPINFormats(t *testing.T) {
	if !validAccountNumber("0123456789") {
		t.Error("10-digit account number should validate")
	}
	for _, bad := range []string{"012345678", "01234567890", "01234abc89", ""} {
		if validAccountNumber(bad) {
			t.Errorf("account %q should not validate", bad)
		}
	}

	if !validOTPFormat("123456") {
		t.Error("6-digit otp should validate")
	}
	if validOTPFormat("12345") || validOTPFormat("1234567") || validOTPFormat("12345a") {
		t.Error("non-6-digit otp should not validate")
	}

	if !validPINFormat("0000") {
		t.Error("4-digit pin should validate")
	}
	if validPINFormat("123") || validPINFormat("12345") || validPINFormat("12a4") {
		t.Error("non-4-digit pin should not validate")
	}
}

func TestFormatNaira(t *testing.T) {
	cases := []struct {
		kobo int64
		want string
	}{
		{0, "₦0"},
		{50_000, "₦500"},
		{50_050, "₦500.50"},
		{100_000, "₦1,000"},
		{123_456, "₦1,234.56"},
		{5_000_000_00, "₦5,000,000"},
		{-50_000, "-₦500"},
	}
	for _, tc := range cases {
		if got := formatNaira(tc.kobo); got != tc.want {
			t.Errorf("formatNaira(%d) = %q, want %q", tc.kobo, got, tc.want)
		}
	}
}

func TestMaskAccountNumber(t *testing.T) {
	if got := maskAccountNumber("0123456789"); got != "******6789" {
		t.Errorf("maskAccountNumber = %q", got)
	}
	if got := maskAccountNumber("123"); got != "123" {
		t.Errorf("short input should pass through, got %q", got)
	}
}
