package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/hazyhaar/contacts-merger/pkg/contact"
)

// multiSep joins several values in one cell, the way Google Contacts
// exports and imports them.
const multiSep = " ::: "

// CSVOptions shapes the merged contacts file.
type CSVOptions struct {
	// PhoneColumns is the number of Phone N column pairs. Extra numbers
	// are packed into the last one.
	PhoneColumns int `yaml:"phone_columns"`
	// BOM prefixes the file with a UTF-8 byte order mark so Excel picks
	// the right encoding.
	BOM bool `yaml:"bom"`
	// IncludeSources adds the Duplicate Names and Sources custom fields.
	IncludeSources bool `yaml:"include_sources"`
}

// DefaultCSVOptions returns four phone columns, a BOM and source fields.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{PhoneColumns: 4, BOM: true, IncludeSources: true}
}

// Header returns the column names WriteCSV emits for opts.
func Header(opts CSVOptions) []string {
	h := []string{
		"Name", "Given Name", "Additional Name", "Family Name",
		"Organization 1 - Name", "Group Membership",
		"E-mail 1 - Value", "E-mail 2 - Value",
	}
	for i := 1; i <= phoneColumns(opts); i++ {
		h = append(h, fmt.Sprintf("Phone %d - Type", i), fmt.Sprintf("Phone %d - Value", i))
	}
	h = append(h, "Notes")
	if opts.IncludeSources {
		h = append(h,
			"Custom Field 1 - Label", "Custom Field 1 - Value",
			"Custom Field 2 - Label", "Custom Field 2 - Value")
	}
	return h
}

// ExtraColumns returns the passthrough column names of records in first
// seen order, leaving out names the fixed header already holds.
func ExtraColumns(records []contact.Record, opts CSVOptions) []string {
	seen := make(map[string]bool)
	for _, h := range Header(opts) {
		seen[strings.ToLower(h)] = true
	}
	var out []string
	for i := range records {
		for _, f := range records[i].Extra {
			k := strings.ToLower(f.Name)
			if !seen[k] {
				seen[k] = true
				out = append(out, f.Name)
			}
		}
	}
	return out
}

// WriteCSV writes records in order, one row each. Extra columns carried
// by the records follow the fixed ones.
func WriteCSV(w io.Writer, records []contact.Record, opts CSVOptions) error {
	if opts.BOM {
		if _, err := io.WriteString(w, "\ufeff"); err != nil {
			return fmt.Errorf("write bom: %w", err)
		}
	}
	extra := ExtraColumns(records, opts)
	cw := csv.NewWriter(w)
	if err := cw.Write(append(Header(opts), extra...)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range records {
		if err := cw.Write(csvRow(&records[i], opts, extra)); err != nil {
			return fmt.Errorf("write record %s: %w", records[i].Provenance, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteCSVFile writes records to path atomically.
func WriteCSVFile(path string, records []contact.Record, opts CSVOptions) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return WriteCSV(w, records, opts)
	})
}

func csvRow(r *contact.Record, opts CSVOptions, extra []string) []string {
	row := []string{
		r.Name.Full(), r.Name.Given, r.Name.Middle, r.Name.Family,
		r.Organization, strings.Join(r.Groups, multiSep),
	}
	row = append(row, spread(r.Emails, 2)...)

	for _, p := range spread(r.Phones, phoneColumns(opts)) {
		typ := ""
		if p != "" {
			typ = "Mobile"
		}
		row = append(row, typ, p)
	}
	row = append(row, r.Notes)

	if opts.IncludeSources {
		sources := make([]string, len(r.Sources))
		for i, s := range r.Sources {
			sources[i] = string(s)
		}
		row = append(row,
			"Duplicate Names", strings.Join(r.Aliases, " - "),
			"Sources", strings.Join(sources, " & "))
	}
	for _, name := range extra {
		v, _ := r.ExtraValue(name)
		row = append(row, v)
	}
	return row
}

// spread lays values over n cells, packing the overflow into the last.
func spread(values []string, n int) []string {
	cells := make([]string, n)
	for i, v := range values {
		if i < n-1 {
			cells[i] = v
			continue
		}
		cells[n-1] = strings.Join(values[n-1:], multiSep)
		break
	}
	return cells
}

func phoneColumns(opts CSVOptions) int {
	if opts.PhoneColumns < 1 {
		return 1
	}
	return opts.PhoneColumns
}
