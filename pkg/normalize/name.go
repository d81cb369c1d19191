package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripAccents is rebuilt per call: chained transformers carry state.
func stripAccents() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// tatweel is the Arabic elongation character; it carries no meaning.
const tatweel = '\u0640'

// NameKey reduces a person name to a comparison key: lowercase, no
// accents or Arabic diacritics, punctuation turned into spaces, single
// spaces. "JANE  DOE", "Jané Doe" and "jane-doe" share a key.
func NameKey(s string) string {
	lowered, _, _ := transform.String(stripAccents(), strings.ToLower(s))
	lowered = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsPunct(r):
			return ' '
		case r == tatweel || unicode.IsSymbol(r):
			return -1
		}
		return r
	}, lowered)
	return collapseSpace(lowered)
}

// CleanName trims and collapses inner whitespace, keeping case and accents.
func CleanName(s string) string {
	return collapseSpace(norm.NFC.String(s))
}

// Email lowercases and trims an address. ok is false when the value does
// not look like an address at all.
func Email(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", true
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 || strings.ContainsAny(s, " \t") {
		return "", false
	}
	return s, true
}
