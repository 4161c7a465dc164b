// Package phone is the single source of truth for phone number formats.
// Argentine mobile numbers carry a "9" between the country code and the
// area code on the receiving side, but the provider expects the stripped
// form when addressing an outbound send. Both directions live here so the
// rewrite is never duplicated at call sites.
package phone

import "strings"

const (
	countryCode  = "54"
	mobilePrefix = "549"
)

// Canonicalize strips punctuation and rewrites a number into the canonical
// mobile form: 54XXXXXXXXXX becomes 549XXXXXXXXXX. Numbers already carrying
// the indicator, and numbers from other countries, pass through unchanged.
func Canonicalize(raw string) string {
	digits := stripNonDigits(raw)
	if strings.HasPrefix(digits, countryCode) && !strings.HasPrefix(digits, mobilePrefix) {
		return mobilePrefix + digits[len(countryCode):]
	}
	return digits
}

// ForDispatch converts a canonical number into the form the provider
// expects on the send path: 549XXXXXXXXXX becomes 54XXXXXXXXXX.
func ForDispatch(canonical string) string {
	if strings.HasPrefix(canonical, mobilePrefix) {
		return countryCode + canonical[len(mobilePrefix):]
	}
	return canonical
}

// Legacy returns the historical stored form of a canonical number, used to
// find contacts created before normalization. Returns "" when the legacy
// form would equal the canonical one.
func Legacy(canonical string) string {
	legacy := ForDispatch(canonical)
	if legacy == canonical {
		return ""
	}
	return legacy
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
