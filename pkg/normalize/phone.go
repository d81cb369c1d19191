package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPhone is returned for input that holds something but cannot be
// reduced to a canonical number.
var ErrInvalidPhone = errors.New("invalid phone number")

// trunkZero matches the "(0)" national trunk marker written inside
// international numbers, as in "+20 (0) 100 123 4567".
var trunkZero = regexp.MustCompile(`\(\s*0\s*\)`)

// maxE164Digits is the longest number (country code included) E.164 allows.
const maxE164Digits = 15

// PrefixRule routes national numbers starting with Prefix to another country.
// e.g. Saudi mobiles written as 05xxxxxxxx -> +9665xxxxxxxx.
type PrefixRule struct {
	Prefix      string `yaml:"prefix"`
	MinDigits   int    `yaml:"min_digits"`
	CountryCode string `yaml:"country_code"`
}

// PhoneConfig drives phone normalization.
type PhoneConfig struct {
	DefaultCountryCode string       `yaml:"default_country_code"`
	NationalMaxDigits  int          `yaml:"national_max_digits"`
	MinDigits          int          `yaml:"min_digits"`
	PrefixRules        []PrefixRule `yaml:"prefix_rules"`
}

// DefaultPhoneConfig returns the Egypt-first defaults the tool was built for.
func DefaultPhoneConfig() PhoneConfig {
	return PhoneConfig{
		DefaultCountryCode: "20",
		NationalMaxDigits:  10,
		MinDigits:          7,
		PrefixRules: []PrefixRule{
			{Prefix: "05", MinDigits: 10, CountryCode: "966"},
		},
	}
}

// Phone turns raw phone strings into canonical "+<digits>" values.
// It holds no mutable state and is safe for concurrent use.
type Phone struct {
	cc          string
	nationalMax int
	minDigits   int
	rules       []PrefixRule
}

// NewPhone validates cfg and returns a normalizer.
func NewPhone(cfg PhoneConfig) (*Phone, error) {
	cc := strings.TrimPrefix(strings.TrimSpace(cfg.DefaultCountryCode), "+")
	if cc == "" || !allDigits(cc) || len(cc) > 3 {
		return nil, fmt.Errorf("default country code %q: must be 1-3 digits", cfg.DefaultCountryCode)
	}
	p := &Phone{
		cc:          cc,
		nationalMax: cfg.NationalMaxDigits,
		minDigits:   cfg.MinDigits,
	}
	if p.nationalMax <= 0 {
		p.nationalMax = maxE164Digits - len(cc)
	}
	if p.minDigits <= 0 {
		p.minDigits = 7
	}
	for _, r := range cfg.PrefixRules {
		r.CountryCode = strings.TrimPrefix(strings.TrimSpace(r.CountryCode), "+")
		if r.Prefix == "" || !allDigits(r.Prefix) {
			return nil, fmt.Errorf("prefix rule %q: prefix must be digits", r.Prefix)
		}
		if r.CountryCode == "" || !allDigits(r.CountryCode) {
			return nil, fmt.Errorf("prefix rule %q: country code %q must be digits", r.Prefix, r.CountryCode)
		}
		p.rules = append(p.rules, r)
	}
	return p, nil
}

// Normalize returns the canonical form of raw.
// Blank input (or the literal NULL some exports carry) yields "" and a nil
// error: there is no phone. Anything else that cannot be canonicalized
// yields ErrInvalidPhone.
func (p *Phone) Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "null") {
		return "", nil
	}
	s = trunkZero.ReplaceAllString(stripExtension(s), " ")

	international := false
	var digits strings.Builder
	for _, r := range s {
		if r == '+' && digits.Len() == 0 {
			international = true
			continue
		}
		if d, ok := asciiDigit(r); ok {
			digits.WriteByte(d)
		}
	}
	num := digits.String()
	if num == "" {
		return "", fmt.Errorf("%w: %q has no digits", ErrInvalidPhone, raw)
	}
	if !international && strings.HasPrefix(num, "00") {
		international = true
		num = num[2:]
	}

	if international {
		num = strings.TrimLeft(num, "0")
		if len(num) < p.minDigits+1 || len(num) > maxE164Digits {
			return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, len(num))
		}
		return "+" + num, nil
	}

	for _, r := range p.rules {
		if strings.HasPrefix(num, r.Prefix) && len(num) >= r.MinDigits {
			return p.finish(raw, r.CountryCode, strings.TrimLeft(num, "0"))
		}
	}

	national := strings.TrimLeft(num, "0")
	if len(national) > p.nationalMax && strings.HasPrefix(national, p.cc) {
		return p.finish(raw, "", national)
	}
	return p.finish(raw, p.cc, national)
}

func (p *Phone) finish(raw, cc, national string) (string, error) {
	if len(national) < p.minDigits {
		return "", fmt.Errorf("%w: %q has too few digits", ErrInvalidPhone, raw)
	}
	full := cc + national
	if len(full) > maxE164Digits {
		return "", fmt.Errorf("%w: %q has too many digits", ErrInvalidPhone, raw)
	}
	return "+" + full, nil
}

// NormalizeAll normalizes every value found in cells. Google exports pack
// several numbers into one cell separated by ":::". The result is deduped
// and keeps first-seen order; failures are returned alongside.
func (p *Phone) NormalizeAll(cells ...string) ([]string, []error) {
	var (
		out  []string
		errs []error
		seen = make(map[string]bool)
	)
	for _, cell := range cells {
		for _, part := range SplitMulti(cell) {
			n, err := p.Normalize(part)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, errs
}

// IsCanonicalPhone reports whether s has the shape Normalize produces.
func IsCanonicalPhone(s string) bool {
	if len(s) < 2 || s[0] != '+' || s[1] == '0' {
		return false
	}
	return len(s)-1 <= maxE164Digits && allDigits(s[1:])
}

// SplitMulti splits a Google multi-value cell ("a ::: b").
func SplitMulti(cell string) []string {
	parts := strings.Split(cell, ":::")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripExtension drops "x123", "ext. 123", "#123" or ";ext=123" suffixes.
// A marker only counts once a digit has been seen, so a label like
// "Fax" in front of the number is left alone.
func stripExtension(s string) string {
	seen := false
	for i, r := range s {
		if _, ok := asciiDigit(r); ok {
			seen = true
			continue
		}
		if !seen {
			continue
		}
		for _, marker := range []string{"ext", "x", "#", ";"} {
			if len(s)-i >= len(marker) && strings.EqualFold(s[i:i+len(marker)], marker) {
				return s[:i]
			}
		}
	}
	return s
}

// asciiDigit maps decimal digits from the scripts seen in contact exports
// to their ASCII form.
func asciiDigit(r rune) (byte, bool) {
	switch {
	case r >= '0' && r <= '9':
		return byte(r), true
	case r >= 0x0660 && r <= 0x0669: // Arabic-Indic
		return byte('0' + r - 0x0660), true
	case r >= 0x06F0 && r <= 0x06F9: // Extended Arabic-Indic
		return byte('0' + r - 0x06F0), true
	case r >= 0x0966 && r <= 0x096F: // Devanagari
		return byte('0' + r - 0x0966), true
	case r >= 0xFF10 && r <= 0xFF19: // fullwidth
		return byte('0' + r - 0xFF10), true
	}
	return 0, false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
