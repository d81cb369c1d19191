package source

import (
	"context"
	"fmt"
	"io"

	"github.com/hazyhaar/contacts-merger/pkg/contact"
	"github.com/hazyhaar/contacts-merger/pkg/normalize"
)

func init() {
	Register(&googleReader{})
}

// googleReader parses the "Google CSV" export of Google Contacts, old
// (Given Name / Group Membership) and new (First Name / Labels) layouts.
type googleReader struct{}

func (g *googleReader) ID() string             { return "google-csv" }
func (g *googleReader) Source() contact.Source { return contact.SourceGoogle }
func (g *googleReader) Description() string    { return "Google Contacts CSV export" }

type googleColumns struct {
	name, given, middle, family int
	groups, org, notes          int
	phones, emails              []int
	// extra lists the columns passed through untouched.
	extra  []int
	header []string
}

// extraColumns returns the header positions no field of c consumes,
// leaving out the phone and e-mail type and label columns the writer
// regenerates.
func (t *table) extraColumns(c *googleColumns) []int {
	used := map[int]bool{}
	for _, i := range []int{c.name, c.given, c.middle, c.family, c.groups, c.org, c.notes} {
		used[i] = true
	}
	var derived []int
	for _, kind := range []string{"phone ", "e-mail ", "email "} {
		for _, suffix := range []string{" - type", " - label"} {
			derived = append(derived, t.colsMatching(kind, suffix)...)
		}
	}
	for _, list := range [][]int{c.phones, c.emails, derived} {
		for _, i := range list {
			used[i] = true
		}
	}
	var out []int
	for i, h := range t.header {
		if !used[i] && h != "" {
			out = append(out, i)
		}
	}
	return out
}

func (g *googleReader) Read(ctx context.Context, path string, env *Env) ([]contact.Record, error) {
	t, err := openTable(path, env.FallbackEncoding)
	if err != nil {
		return nil, err
	}

	c := googleColumns{
		name:   t.col("Name"),
		given:  t.col("Given Name", "First Name"),
		middle: t.col("Additional Name", "Middle Name"),
		family: t.col("Family Name", "Last Name"),
		groups: t.col("Group Membership", "Labels"),
		org:    t.col("Organization 1 - Name", "Organization Name"),
		notes:  t.col("Notes"),
		phones: t.colsMatching("phone ", " - value"),
		emails: append(t.colsMatching("e-mail ", " - value"), t.colsMatching("email ", " - value")...),
	}
	if c.name < 0 && c.given < 0 && c.family < 0 {
		return nil, fmt.Errorf("%w: %s: no Name, Given Name or Family Name column in header %v", ErrFormat, path, t.header)
	}
	c.extra, c.header = t.extraColumns(&c), t.header

	var records []contact.Record
	var issues int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rw, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, ok := g.record(rw, &c, path, env)
		if !ok {
			continue
		}
		issues += len(rec.Issues)
		records = append(records, rec)
	}

	env.logger().Info("source read",
		"reader", g.ID(), "file", path, "encoding", t.encoding,
		"records", len(records), "issues", issues)
	return records, nil
}

func (g *googleReader) record(rw row, c *googleColumns, path string, env *Env) (contact.Record, bool) {
	rec := contact.Record{
		Provenance: contact.Provenance{Source: contact.SourceGoogle, File: path, Line: rw.line},
	}
	if rw.err != nil {
		rec.Issues = append(rec.Issues, fmt.Sprintf("unparseable row: %v", rw.err))
		return rec, true
	}
	if blankRow(rw.cells) {
		return rec, false
	}

	rec.Name = contact.Name{
		Display: normalize.CleanName(cell(rw.cells, c.name)),
		Given:   normalize.CleanName(cell(rw.cells, c.given)),
		Middle:  normalize.CleanName(cell(rw.cells, c.middle)),
		Family:  normalize.CleanName(cell(rw.cells, c.family)),
	}
	rec.Groups = env.Groups.Split(cell(rw.cells, c.groups))
	rec.Organization = cell(rw.cells, c.org)
	rec.Notes = cell(rw.cells, c.notes)

	phoneCells := make([]string, 0, len(c.phones))
	for _, i := range c.phones {
		phoneCells = append(phoneCells, cell(rw.cells, i))
	}
	rec.Phones, rec.Issues = normalizePhones(env.Phones, rec.Issues, phoneCells...)

	for _, i := range c.emails {
		rec.Emails, rec.Issues = addEmails(rec.Emails, rec.Issues, cell(rw.cells, i))
	}
	for _, i := range c.extra {
		if v := cell(rw.cells, i); v != "" {
			rec.Extra = append(rec.Extra, contact.Field{Name: c.header[i], Value: v})
		}
	}
	return rec, true
}

func normalizePhones(p *normalize.Phone, issues []string, cells ...string) ([]string, []string) {
	phones, errs := p.NormalizeAll(cells...)
	for _, err := range errs {
		issues = append(issues, fmt.Sprintf("phone: %v", err))
	}
	return phones, issues
}

func addEmails(emails, issues []string, raw string) ([]string, []string) {
	for _, part := range normalize.SplitMulti(raw) {
		e, ok := normalize.Email(part)
		if !ok {
			issues = append(issues, fmt.Sprintf("email %q: not an address", part))
			continue
		}
		if e != "" && !contains(emails, e) {
			emails = append(emails, e)
		}
	}
	return emails, issues
}

func blankRow(cells []string) bool {
	for i := range cells {
		if cell(cells, i) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
