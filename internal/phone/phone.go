package phone

import "strings"

const (
	countryCode = "254"
	trunkPrefix = "0"
)

// Normalize converts a free-form phone number into the digits-only
// international form used by M-Pesa, e.g. "0712 345 678" -> "254712345678".
// Length is not checked; callers that need a valid MSISDN must validate it.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + len(countryCode))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, trunkPrefix):
		return countryCode + digits[len(trunkPrefix):]
	case strings.HasPrefix(digits, countryCode):
		return digits
	default:
		return countryCode + digits
	}
}
