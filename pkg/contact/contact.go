// Package contact holds the record shape shared by the source readers,
// the merge engine and the writers.
package contact

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/contacts-merger/pkg/normalize"
)

// Source identifies which export a record came from.
type Source string

const (
	SourceGoogle Source = "Google"
	SourceMSSQL  Source = "MSSQL"
)

// Provenance locates the input row a record was built from.
type Provenance struct {
	Source Source `json:"source"`
	File   string `json:"file"`
	Line   int    `json:"line"`
}

func (p Provenance) String() string {
	if p.Line > 0 {
		return fmt.Sprintf("%s:%d", p.File, p.Line)
	}
	return p.File
}

// Name keeps the split parts a source provides plus the display form.
type Name struct {
	Given   string `json:"given,omitempty"`
	Middle  string `json:"middle,omitempty"`
	Family  string `json:"family,omitempty"`
	Display string `json:"display,omitempty"`
}

// Full returns the display name, or the joined parts when none was given.
func (n Name) Full() string {
	if n.Display != "" {
		return n.Display
	}
	var parts []string
	for _, p := range []string{n.Given, n.Middle, n.Family} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// IsZero reports whether no part of the name is usable.
func (n Name) IsZero() bool {
	return strings.TrimSpace(n.Full()) == ""
}

// Field is a source column the record shape has no slot for, carried
// through to the output under its original header.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is one contact. Phones and Groups hold canonical values only.
type Record struct {
	Name         Name       `json:"name"`
	Phones       []string   `json:"phones,omitempty"`
	Emails       []string   `json:"emails,omitempty"`
	Groups       []string   `json:"groups,omitempty"`
	Organization string     `json:"organization,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	Provenance   Provenance `json:"provenance"`
	// Sources lists every export that contributed to the record.
	Sources []Source `json:"sources,omitempty"`
	// Aliases collects other display names absorbed by merges.
	Aliases []string `json:"aliases,omitempty"`
	// Issues are recoverable problems met while reading the row.
	Issues []string `json:"issues,omitempty"`
	// Extra holds the remaining non-empty columns in header order.
	Extra []Field `json:"extra,omitempty"`
}

// ExtraValue returns the value of the extra column name, matched
// case-insensitively.
func (r *Record) ExtraValue(name string) (string, bool) {
	for _, f := range r.Extra {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Malformed reports whether the record has neither a phone nor a name,
// leaving nothing to identify it by.
func (r *Record) Malformed() bool {
	return len(r.Phones) == 0 && r.Name.IsZero()
}

// Clone returns a deep copy so merging never aliases caller slices.
func (r Record) Clone() Record {
	c := r
	c.Phones = append([]string(nil), r.Phones...)
	c.Emails = append([]string(nil), r.Emails...)
	c.Groups = append([]string(nil), r.Groups...)
	c.Sources = append([]Source(nil), r.Sources...)
	c.Aliases = append([]string(nil), r.Aliases...)
	c.Issues = append([]string(nil), r.Issues...)
	c.Extra = append([]Field(nil), r.Extra...)
	return c
}

// CheckCanonical returns an error when a phone did not go through the
// phone normalizer. Readers in this module never produce such records.
func (r *Record) CheckCanonical() error {
	for _, p := range r.Phones {
		if !normalize.IsCanonicalPhone(p) {
			return fmt.Errorf("record %s: phone %q is not canonical", r.Provenance, p)
		}
	}
	for _, g := range r.Groups {
		if g == "" || strings.TrimSpace(g) != g {
			return fmt.Errorf("record %s: group %q is not canonical", r.Provenance, g)
		}
	}
	return nil
}
