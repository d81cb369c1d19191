package normalize

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// GroupConfig lists canonical group labels with their known spellings.
type GroupConfig struct {
	// Aliases maps a canonical label to the spellings that mean the same group.
	Aliases map[string][]string `yaml:"aliases"`
	// Drop lists labels removed from every record (e.g. "* starred").
	Drop []string `yaml:"drop"`
}

// DefaultGroupConfig mirrors the label set of the contact book the tool was
// written for: Google system groups plus the Arabic labels it migrated from.
func DefaultGroupConfig() GroupConfig {
	return GroupConfig{
		Aliases: map[string][]string{
			"* myContacts":       {"My Contacts", "mycontacts"},
			"Family":             {"* family", "family members", "عائلة"},
			"Friends":            {"* friends"},
			"Work":               {"Coworkers", "* coworkers"},
			"Lab":                {"🧪 Lab", "lab", "معمل"},
			"Personal":           {"🏠 Personal", "شخصي"},
			"Companies & Agents": {"🏢 Companies & Agents", "شركات ومندوبين"},
			"Doctors":            {"🧑‍⚕️ Doctors", "اطباء", "أطباء"},
			"Jobs":               {"💼 Jobs", "وظائف"},
		},
		Drop: []string{"* starred"},
	}
}

// Groups canonicalizes group labels. Lookups go through a key that ignores
// case, punctuation, symbols and spacing, so "* Family", "family" and
// "FAMILY!" land on the same canonical label.
type Groups struct {
	canonical map[string]string
	drop      map[string]bool
}

// NewGroups builds the lookup tables. Two canonical labels reducing to the
// same key, or an alias claimed by two canonical labels, is a config error.
func NewGroups(cfg GroupConfig) (*Groups, error) {
	g := &Groups{
		canonical: make(map[string]string),
		drop:      make(map[string]bool),
	}

	// Sorted so conflicting configs always report the same pair.
	labels := make([]string, 0, len(cfg.Aliases))
	for label := range cfg.Aliases {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		label = strings.TrimSpace(label)
		if err := g.claim(groupKey(label), label); err != nil {
			return nil, err
		}
	}
	for _, label := range labels {
		for _, alias := range cfg.Aliases[label] {
			k := groupKey(alias)
			if k == "" {
				continue
			}
			if err := g.claim(k, strings.TrimSpace(label)); err != nil {
				return nil, err
			}
		}
	}
	for _, d := range cfg.Drop {
		if k := groupKey(d); k != "" {
			g.drop[k] = true
		}
	}
	return g, nil
}

func (g *Groups) claim(key, label string) error {
	if key == "" {
		return fmt.Errorf("group label %q: empty after normalization", label)
	}
	if prev, ok := g.canonical[key]; ok && prev != label {
		return fmt.Errorf("group %q conflicts with %q", label, prev)
	}
	g.canonical[key] = label
	return nil
}

// Normalize returns the canonical spelling of one label, or "" when the
// label is blank or dropped. Unknown labels come back trimmed and
// case-folded.
func (g *Groups) Normalize(raw string) string {
	k := groupKey(raw)
	if k == "" || g.drop[k] {
		return ""
	}
	if c, ok := g.canonical[k]; ok {
		return c
	}
	return cases.Fold().String(collapseSpace(norm.NFKC.String(raw)))
}

// Split normalizes a multi-value cell ("Family ::: * myContacts") into a
// deduped label list, first occurrence first.
func (g *Groups) Split(raw string) []string {
	var out []string
	for _, part := range SplitMulti(raw) {
		if c := g.Normalize(part); c != "" && !containsString(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// groupKey folds, drops punctuation and symbols (emoji included) and
// collapses whitespace.
func groupKey(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.In(r, unicode.Mn, unicode.Cf) {
			return -1
		}
		return r
	}, s)
	return collapseSpace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
