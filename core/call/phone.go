package call

import (
	"fmt"
	"strings"
)

// ErrInvalidPhone is returned when a number cannot be normalized.
var ErrInvalidPhone = fmt.Errorf("invalid phone number")

// DefaultCountryCode is applied to bare 10-digit local numbers.
const DefaultCountryCode = "91"

// NormalizePhone converts a raw phone number into E.164 form. Ten-digit local
// numbers get the country code prefix, numbers already carrying the code or a
// leading + pass through.
func NormalizePhone(raw, countryCode string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	cleaned := digitsOnly(raw)

	switch {
	case len(cleaned) == 10+len(countryCode) && strings.HasPrefix(cleaned, countryCode):
		return "+" + cleaned, nil
	case len(cleaned) == 10:
		return "+" + countryCode + cleaned, nil
	case strings.HasPrefix(strings.TrimSpace(raw), "+"):
		return strings.TrimSpace(raw), nil
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "0"):
		// Domestic trunk prefix.
		return "+" + countryCode + cleaned[1:], nil
	}
	return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, len(cleaned))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
