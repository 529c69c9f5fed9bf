/**
 * @description
 * This file contains the input validators shared by the conversational flows:
 * amount parsing with inclusive bounds, Nigerian mobile number normalization,
 * bank account numbers, OTP codes, and PIN format.
 *
 * @notes
 * - Phone numbers are normalized to the canonical 11-digit local form
 *   (leading 0) before use, accepting 0 / 234 / +234 prefixes.
 * - Amounts are entered in naira and converted to kobo.
 */

package app

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Canonical local form: 0, then 7/8/9, then 0/1, then 8 digits.
	phonePattern   = regexp.MustCompile(`^0[789][01]\d{8}$`)
	accountPattern = regexp.MustCompile(`^\d{10}$`)
	otpPattern     = regexp.MustCompile(`^\d{6}$`)
	pinPattern     = regexp.MustCompile(`^\d{4}$`)
)

// parseAmountKobo parses a naira amount typed by the user and enforces the
// inclusive [min, max] bounds. Decimal kobo entry (e.g. "500.50") is accepted.
func parseAmountKobo(input string, minKobo, maxKobo int64) (int64, error) {
	cleaned := strings.TrimSpace(input)
	cleaned = strings.TrimPrefix(cleaned, "₦")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("that doesn't look like an amount. Please enter a number, e.g. 500")
	}

	var kobo int64
	if strings.Contains(cleaned, ".") {
		parts := strings.SplitN(cleaned, ".", 2)
		if len(parts[1]) > 2 || parts[1] == "" {
			return 0, fmt.Errorf("that doesn't look like an amount. Please enter a number, e.g. 500")
		}
		whole, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("that doesn't look like an amount. Please enter a number, e.g. 500")
		}
		fracStr := parts[1]
		if len(fracStr) == 1 {
			fracStr += "0"
		}
		frac, err := strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("that doesn't look like an amount. Please enter a number, e.g. 500")
		}
		kobo = whole*100 + frac
	} else {
		whole, err := strconv.ParseInt(cleaned, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("that doesn't look like an amount. Please enter a number, e.g. 500")
		}
		kobo = whole * 100
	}

	if kobo <= 0 {
		return 0, fmt.Errorf("the amount must be greater than zero")
	}
	if kobo < minKobo {
		return 0, fmt.Errorf("the minimum is %s", formatNaira(minKobo))
	}
	if kobo > maxKobo {
		return 0, fmt.Errorf("the maximum is %s", formatNaira(maxKobo))
	}
	return kobo, nil
}

// normalizePhoneNumber converts 0 / 234 / +234 prefixed input to the canonical
// 11-digit local form and validates the network number pattern.
func normalizePhoneNumber(input string) (string, error) {
	cleaned := strings.TrimSpace(input)
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	switch {
	case strings.HasPrefix(cleaned, "+234"):
		cleaned = "0" + cleaned[4:]
	case strings.HasPrefix(cleaned, "234") && len(cleaned) == 13:
		cleaned = "0" + cleaned[3:]
	}

	if !phonePattern.MatchString(cleaned) {
		return "", fmt.Errorf("that doesn't look like a valid Nigerian phone number. Please enter 11 digits, e.g. 08012345678")
	}
	return cleaned, nil
}

// validAccountNumber reports whether the input is exactly 10 digits.
func validAccountNumber(input string) bool {
	return accountPattern.MatchString(strings.TrimSpace(input))
}

// validOTPFormat reports whether the input is a 6-digit code.
func validOTPFormat(input string) bool {
	return otpPattern.MatchString(strings.TrimSpace(input))
}

// validPINFormat reports whether the input is a 4-digit PIN.
func validPINFormat(input string) bool {
	return pinPattern.MatchString(strings.TrimSpace(input))
}
