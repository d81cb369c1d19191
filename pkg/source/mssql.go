package source

import (
	"context"
	"fmt"
	"io"

	"github.com/hazyhaar/contacts-merger/pkg/contact"
	"github.com/hazyhaar/contacts-merger/pkg/normalize"
)

func init() {
	Register(&mssqlReader{})
}

// MSSQLColumns names the columns of a SQL Server export. Empty fields
// fall back to positional defaults: first column is the name, every
// other column holds a phone.
type MSSQLColumns struct {
	Name   string   `yaml:"name_column"`
	Phones []string `yaml:"phone_columns"`
	Email  string   `yaml:"email_column"`
	Notes  string   `yaml:"notes_column"`
	Groups string   `yaml:"group_column"`
}

// mssqlReader parses CSV files exported from the customer tables of the
// SQL Server database.
type mssqlReader struct{}

func (m *mssqlReader) ID() string             { return "mssql-csv" }
func (m *mssqlReader) Source() contact.Source { return contact.SourceMSSQL }
func (m *mssqlReader) Description() string    { return "SQL Server customer export (CSV)" }

type mssqlLayout struct {
	name, email, notes, groups int
	phones                     []int
}

func (m *mssqlReader) Read(ctx context.Context, path string, env *Env) ([]contact.Record, error) {
	t, err := openTable(path, env.FallbackEncoding)
	if err != nil {
		return nil, err
	}
	l, err := resolveMSSQL(t, env.MSSQL)
	if err != nil {
		return nil, err
	}

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

		rec := contact.Record{
			Provenance: contact.Provenance{Source: contact.SourceMSSQL, File: path, Line: rw.line},
		}
		if rw.err != nil {
			rec.Issues = append(rec.Issues, fmt.Sprintf("unparseable row: %v", rw.err))
		} else {
			if blankRow(rw.cells) {
				continue
			}
			m.fill(&rec, rw.cells, l, env)
		}
		issues += len(rec.Issues)
		records = append(records, rec)
	}

	env.logger().Info("source read",
		"reader", m.ID(), "file", path, "encoding", t.encoding,
		"records", len(records), "issues", issues)
	return records, nil
}

func (m *mssqlReader) fill(rec *contact.Record, cells []string, l *mssqlLayout, env *Env) {
	rec.Name = fullName(normalize.CleanName(cell(cells, l.name)))

	phoneCells := make([]string, 0, len(l.phones))
	for _, i := range l.phones {
		phoneCells = append(phoneCells, cell(cells, i))
	}
	rec.Phones, rec.Issues = normalizePhones(env.Phones, rec.Issues, phoneCells...)
	rec.Emails, rec.Issues = addEmails(rec.Emails, rec.Issues, cell(cells, l.email))
	rec.Notes = cell(cells, l.notes)
	rec.Groups = env.Groups.Split(cell(cells, l.groups))
}

// resolveMSSQL maps configured column names to header indexes.
func resolveMSSQL(t *table, cfg MSSQLColumns) (*mssqlLayout, error) {
	if len(t.header) < 2 {
		return nil, fmt.Errorf("%w: %s: need a name column and at least one phone column, header has %d", ErrFormat, t.path, len(t.header))
	}
	l := &mssqlLayout{name: 0, email: -1, notes: -1, groups: -1}

	lookup := func(key, name string) (int, error) {
		i := t.col(name)
		if i < 0 {
			return -1, fmt.Errorf("%w: %s: %s %q not in header %v", ErrFormat, t.path, key, name, t.header)
		}
		return i, nil
	}

	var err error
	if cfg.Name != "" {
		if l.name, err = lookup("name_column", cfg.Name); err != nil {
			return nil, err
		}
	}
	for _, opt := range []struct {
		key, name string
		dst       *int
	}{
		{"email_column", cfg.Email, &l.email},
		{"notes_column", cfg.Notes, &l.notes},
		{"group_column", cfg.Groups, &l.groups},
	} {
		if opt.name == "" {
			continue
		}
		if *opt.dst, err = lookup(opt.key, opt.name); err != nil {
			return nil, err
		}
	}

	if len(cfg.Phones) > 0 {
		for _, p := range cfg.Phones {
			i, err := lookup("phone_columns", p)
			if err != nil {
				return nil, err
			}
			l.phones = append(l.phones, i)
		}
		return l, nil
	}

	taken := map[int]bool{l.name: true, l.email: true, l.notes: true, l.groups: true}
	for i := range t.header {
		if !taken[i] {
			l.phones = append(l.phones, i)
		}
	}
	if len(l.phones) == 0 {
		return nil, fmt.Errorf("%w: %s: no phone column left in header %v", ErrFormat, t.path, t.header)
	}
	return l, nil
}

// fullName maps the single name cell of a SQL export. The whole text
// goes to Given Name, matching how Google imports single-field names.
func fullName(full string) contact.Name {
	if full == "" {
		return contact.Name{}
	}
	return contact.Name{Display: full, Given: full}
}
