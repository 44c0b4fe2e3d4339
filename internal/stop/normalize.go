package stop

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName case-folds a stop name, drops punctuation other than
// hyphens and underscores, and collapses whitespace.
// "  Pl. Grunwaldzki " and "pl grunwaldzki" normalize to the same value.
func NormalizeName(name string) string {
	folded := cases.Fold().String(norm.NFC.String(name))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), r == '-', r == '_':
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

// NormalizeNetwork lowercases and trims a network identifier.
func NormalizeNetwork(network string) string {
	return strings.ToLower(strings.TrimSpace(network))
}

// Key builds the identity used for deduplication. Stops are scoped by
// network so equally named stops of different networks stay distinct.
// An empty network yields an unscoped key; an empty name yields "".
func Key(network, name string) string {
	n := NormalizeName(name)
	if n == "" {
		return ""
	}
	if net := NormalizeNetwork(network); net != "" {
		return net + ":" + n
	}
	return n
}
