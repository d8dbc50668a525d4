// Package normalize canonicalizes contact fields so the same person compares
// equal across the intake, CRM and registry sources. Every function is pure
// and idempotent.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CountryCode is prefixed to every normalized phone number.
const CountryCode = "+1"

var multiSpaceRe = regexp.MustCompile(`\s+`)

// Phone strips non-digits, keeps the last 10 digits and prefixes the
// country code. Inputs with fewer than 10 digits normalize to "".
func Phone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	// An already-normalized value carries the country code digit; the last
	// 10 digits are the same either way.
	if len(digits) < 10 {
		return ""
	}
	return CountryCode + digits[len(digits)-10:]
}

// Email lowercases and trims an email address. Values without an "@" are
// treated as absent.
func Email(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	if !strings.Contains(e, "@") {
		return ""
	}
	return e
}

// Name trims and collapses whitespace and applies NFC normalization so names
// typed on different devices compare equal.
func Name(raw string) string {
	s := norm.NFC.String(raw)
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Key builds a case-folded comparison key from the given parts.
func Key(parts ...string) string {
	// Casers are stateful; one per call keeps Key safe for concurrent use.
	folder := cases.Fold()
	folded := make([]string, len(parts))
	for i, p := range parts {
		folded[i] = folder.String(Name(p))
	}
	return strings.Join(folded, "|")
}
