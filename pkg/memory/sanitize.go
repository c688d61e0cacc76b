package memory

import (
	"strings"
	"unicode"
)

// sanitizeQuery strips everything a RediSearch-class backend would choke on:
// anything that isn't a letter, a digit, whitespace, '-' or '_'. Runs of
// whitespace collapse to a single space and the result is trimmed.
//
// Idempotent: sanitizeQuery(sanitizeQuery(q)) == sanitizeQuery(q).
func sanitizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	lastWasSpace := false
	for _, r := range q {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-' || r == '_':
			b.WriteRune(r)
			lastWasSpace = false
		case unicode.IsSpace(r):
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
		default:
			// dropped
		}
	}
	return strings.TrimSpace(b.String())
}
