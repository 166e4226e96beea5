package util

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidPhone = errors.New("invalid phone number")

	// E.164: leading +, 8-15 digits, no leading zero after the +
	e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

	// Jordanian mobile numbers: +9627 followed by 8 digits
	jordanMobilePattern = regexp.MustCompile(`^\+9627[0-9]{8}$`)
)

// NormalizePhone strips formatting characters and converts Jordanian local
// numbers (07XXXXXXXX) to E.164 (+9627XXXXXXXX).
func NormalizePhone(phone string) string {
	normalized := strings.TrimSpace(phone)
	for _, ch := range []string{" ", "-", "(", ")"} {
		normalized = strings.ReplaceAll(normalized, ch, "")
	}

	if strings.HasPrefix(normalized, "00") {
		normalized = "+" + normalized[2:]
	}
	if strings.HasPrefix(normalized, "07") && len(normalized) == 10 {
		normalized = "+962" + normalized[1:]
	}

	return normalized
}

// ValidatePhone normalizes and validates an identity phone number, returning
// the canonical E.164 form.
func ValidatePhone(phone string) (string, error) {
	normalized := NormalizePhone(phone)

	if !e164Pattern.MatchString(normalized) {
		return "", ErrInvalidPhone
	}

	// Numbers in the home region must be mobile numbers
	if strings.HasPrefix(normalized, "+962") && !jordanMobilePattern.MatchString(normalized) {
		return "", ErrInvalidPhone
	}

	return normalized, nil
}
