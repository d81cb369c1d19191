// Package merge combines a primary contact list with secondary lists into
// one deduplicated list and explains every decision in a Report.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/contacts-merger/pkg/contact"
	"github.com/hazyhaar/contacts-merger/pkg/normalize"
)

// Options tune merge policy. Group values must already be canonical.
type Options struct {
	// MatchByName lets a record whose phones are all unknown match an
	// existing record by name. Records without phones always match by name.
	MatchByName bool `yaml:"match_by_name"`
	// NoteSeparator joins conflicting free-text values.
	NoteSeparator string `yaml:"note_separator"`
	// NewRecordGroups are given to secondary records kept as new that
	// carry no group of their own.
	NewRecordGroups []string `yaml:"new_record_groups"`
	// ProtectedGroups mark primary records secondary data must not touch.
	ProtectedGroups []string `yaml:"protected_groups"`
}

// Engine runs merges. It keeps no state between runs.
type Engine struct {
	opts Options
}

// New returns an engine using opts.
func New(opts Options) *Engine {
	if opts.NoteSeparator == "" {
		opts.NoteSeparator = " | "
	}
	return &Engine{opts: opts}
}

// Result is the merged collection and the report that explains it.
type Result struct {
	Records []contact.Record `json:"records"`
	Report  *Report          `json:"report"`
}

// Summary returns report counts along with the output size.
func (r *Result) Summary() Summary {
	s := r.Report.Summary()
	s.Output = len(r.Records)
	return s
}

// entry is one slot of the insertion-ordered index.
type entry struct {
	rec       contact.Record
	seq       int
	alive     bool
	protected bool
	// reportIdx points at the report entry of the primary record occupying
	// the slot, so a later primary duplicate can rewrite it.
	reportIdx int
}

type state struct {
	opts    *Options
	entries []*entry
	index   map[contact.Key]*entry
	report  *Report
}

// Run merges secondaries into primary, in order. Bad data never fails a
// run; it shows up in the report. Records whose phones or groups were not
// normalized are a caller bug and make Run panic.
func (e *Engine) Run(primary []contact.Record, secondaries ...[]contact.Record) *Result {
	st := &state{
		opts:   &e.opts,
		index:  make(map[contact.Key]*entry),
		report: &Report{},
	}

	for i := range primary {
		st.addPrimary(primary[i])
	}
	for _, batch := range secondaries {
		for i := range batch {
			st.addSecondary(batch[i])
		}
	}

	res := &Result{Report: st.report, Records: []contact.Record{}}
	for _, ent := range st.entries {
		if ent.alive {
			res.Records = append(res.Records, ent.rec.Clone())
		}
	}
	return res
}

func (st *state) prepare(in contact.Record) (contact.Record, bool) {
	if err := in.CheckCanonical(); err != nil {
		panic(fmt.Sprintf("merge: unnormalized input: %v", err))
	}
	if in.Malformed() {
		st.report.add(Entry{
			Kind:       MalformedSkipped,
			Provenance: in.Provenance,
			Detail:     "no usable name and no usable phone",
			Issues:     in.Issues,
		})
		return contact.Record{}, false
	}
	rec := in.Clone()
	if len(rec.Sources) == 0 && rec.Provenance.Source != "" {
		rec.Sources = []contact.Source{rec.Provenance.Source}
	}
	return rec, true
}

func (st *state) addPrimary(in contact.Record) {
	rec, ok := st.prepare(in)
	if !ok {
		return
	}
	e := baseEntry(KeptAsNew, &rec)

	matches := st.lookup(&rec)
	if len(matches) == 0 {
		ent := st.insert(rec)
		ent.reportIdx = st.report.add(e)
		return
	}

	// A later primary duplicate takes the slot of the earliest one it hits.
	target := matches[0]
	var replaced []string
	for _, m := range matches {
		old := &st.report.Entries[m.reportIdx]
		old.Kind = SkippedDuplicate
		old.Detail = "duplicate within primary, superseded by " + rec.Provenance.String()
		replaced = append(replaced, m.rec.Provenance.String())
		st.unindex(m)
		if m != target {
			m.alive = false
		}
	}
	target.rec = rec
	target.protected = st.isProtected(&rec)
	st.register(target)
	e.Detail = "duplicate within primary, replaced " + strings.Join(replaced, ", ")
	target.reportIdx = st.report.add(e)
}

func (st *state) addSecondary(in contact.Record) {
	rec, ok := st.prepare(in)
	if !ok {
		return
	}
	e := baseEntry(KeptAsNew, &rec)

	matches := st.lookup(&rec)
	if len(matches) == 0 {
		if len(rec.Groups) == 0 {
			rec.Groups = append([]string(nil), st.opts.NewRecordGroups...)
		}
		ent := st.insert(rec)
		ent.reportIdx = -1
		st.report.add(e)
		return
	}

	target := matches[0]
	tp := target.rec.Provenance
	e.Target = &tp
	if target.protected {
		e.Kind = SkippedDuplicate
		e.Detail = "existing record is protected"
		st.report.add(e)
		return
	}

	// Phones owned by a protected record stay with it alone.
	var kept []string
	for _, m := range matches[1:] {
		if m.protected {
			rec.Phones = without(rec.Phones, m.rec.Phones)
			kept = append(kept, m.rec.Provenance.String())
		}
	}

	changes := st.mergeInto(&target.rec, &rec)
	var joined []string
	for _, m := range matches[1:] {
		if m.protected {
			continue
		}
		changes = append(changes, st.mergeInto(&target.rec, &m.rec)...)
		m.alive = false
		st.unindex(m)
		joined = append(joined, m.rec.Provenance.String())
	}
	st.register(target)

	var details []string
	if len(joined) > 0 {
		details = append(details, "shared phone, joined "+strings.Join(joined, ", "))
	}
	if len(kept) > 0 {
		details = append(details, "phones of protected "+strings.Join(kept, ", ")+" left out")
	}
	e.Detail = strings.Join(details, "; ")
	if len(changes) == 0 {
		e.Kind = SkippedDuplicate
		if e.Detail == "" {
			e.Detail = "nothing new"
		}
	} else {
		e.Kind = MergedIntoExisting
		e.Changes = compactChanges(changes)
	}
	st.report.add(e)
}

func baseEntry(kind Kind, rec *contact.Record) Entry {
	e := Entry{
		Kind:       kind,
		Provenance: rec.Provenance,
		Name:       rec.Name.Full(),
		Issues:     rec.Issues,
	}
	if k, ok := rec.PrimaryKey(); ok {
		e.Key = k.String()
	}
	return e
}

// lookup returns the live entries rec matches, earliest first.
func (st *state) lookup(rec *contact.Record) []*entry {
	var found []*entry
	seen := make(map[*entry]bool)
	add := func(k contact.Key) {
		if ent, ok := st.index[k]; ok && ent.alive && !seen[ent] {
			seen[ent] = true
			found = append(found, ent)
		}
	}
	for _, k := range rec.PhoneKeys() {
		add(k)
	}
	if len(found) == 0 && (len(rec.Phones) == 0 || st.opts.MatchByName) {
		if k, ok := rec.NameKey(); ok {
			add(k)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })
	return found
}

func (st *state) insert(rec contact.Record) *entry {
	ent := &entry{
		rec:       rec,
		seq:       len(st.entries),
		alive:     true,
		protected: st.isProtected(&rec),
	}
	st.entries = append(st.entries, ent)
	st.register(ent)
	return ent
}

// register points every key of ent at it. Phone keys always move; a name
// key stays with the first record that claimed it.
func (st *state) register(ent *entry) {
	for _, k := range ent.rec.PhoneKeys() {
		st.index[k] = ent
	}
	if k, ok := ent.rec.NameKey(); ok {
		if cur, exists := st.index[k]; !exists || !cur.alive || cur == ent {
			st.index[k] = ent
		}
	}
}

func (st *state) unindex(ent *entry) {
	for _, k := range ent.rec.PhoneKeys() {
		if st.index[k] == ent {
			delete(st.index, k)
		}
	}
	if k, ok := ent.rec.NameKey(); ok && st.index[k] == ent {
		delete(st.index, k)
	}
}

func (st *state) isProtected(rec *contact.Record) bool {
	for _, g := range st.opts.ProtectedGroups {
		for _, rg := range rec.Groups {
			if g == rg {
				return true
			}
		}
	}
	return false
}

// mergeInto folds src into dst. Populated fields of dst win, empty ones are
// filled, list fields are unioned and conflicting free text is joined, so
// no value of src is lost. The returned changes exclude Sources and Issues.
func (st *state) mergeInto(dst, src *contact.Record) []Change {
	var changes []Change
	record := func(field, before, after string) {
		if before != after {
			changes = append(changes, Change{Field: field, Before: before, After: after})
		}
	}

	dstFull, srcFull := dst.Name.Full(), src.Name.Full()
	switch {
	case dstFull == "" && srcFull != "":
		dst.Name = src.Name
		record("name", "", srcFull)
	case srcFull != "" && normalize.NameKey(dstFull) == normalize.NameKey(srcFull):
		before := dst.Name
		fill(&dst.Name.Given, src.Name.Given)
		fill(&dst.Name.Middle, src.Name.Middle)
		fill(&dst.Name.Family, src.Name.Family)
		record("given_name", before.Given, dst.Name.Given)
		record("middle_name", before.Middle, dst.Name.Middle)
		record("family_name", before.Family, dst.Name.Family)
	case srcFull != "":
		before := strings.Join(dst.Aliases, "; ")
		dst.Aliases = unionAliases(dst.Aliases, dstFull, srcFull)
		record("aliases", before, strings.Join(dst.Aliases, "; "))
	}
	if len(src.Aliases) > 0 {
		before := strings.Join(dst.Aliases, "; ")
		dst.Aliases = unionAliases(dst.Aliases, dst.Name.Full(), src.Aliases...)
		record("aliases", before, strings.Join(dst.Aliases, "; "))
	}

	before := strings.Join(dst.Phones, ", ")
	dst.Phones = union(dst.Phones, src.Phones)
	record("phones", before, strings.Join(dst.Phones, ", "))

	before = strings.Join(dst.Emails, ", ")
	dst.Emails = union(dst.Emails, src.Emails)
	record("emails", before, strings.Join(dst.Emails, ", "))

	before = strings.Join(dst.Groups, ", ")
	dst.Groups = union(dst.Groups, src.Groups)
	record("groups", before, strings.Join(dst.Groups, ", "))

	before = dst.Organization
	dst.Organization = joinText(dst.Organization, src.Organization, st.opts.NoteSeparator)
	record("organization", before, dst.Organization)

	before = dst.Notes
	dst.Notes = joinText(dst.Notes, src.Notes, st.opts.NoteSeparator)
	record("notes", before, dst.Notes)

	for _, f := range src.Extra {
		i := extraIndex(dst.Extra, f.Name)
		if i < 0 {
			dst.Extra = append(dst.Extra, f)
			record("extra:"+f.Name, "", f.Value)
			continue
		}
		before = dst.Extra[i].Value
		dst.Extra[i].Value = joinText(before, f.Value, st.opts.NoteSeparator)
		record("extra:"+dst.Extra[i].Name, before, dst.Extra[i].Value)
	}

	for _, s := range src.Sources {
		if !containsSource(dst.Sources, s) {
			dst.Sources = append(dst.Sources, s)
		}
	}
	dst.Issues = union(dst.Issues, src.Issues)
	return changes
}

func extraIndex(fields []contact.Field, name string) int {
	for i, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// compactChanges keeps one change per field: first Before, last After.
func compactChanges(changes []Change) []Change {
	var out []Change
	pos := make(map[string]int)
	for _, c := range changes {
		if i, ok := pos[c.Field]; ok {
			out[i].After = c.After
			continue
		}
		pos[c.Field] = len(out)
		out = append(out, c)
	}
	return out
}

func fill(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

// joinText keeps both values of a conflict. Segments of src already
// present in dst, compared whole after trimming, are not repeated.
func joinText(dst, src, sep string) string {
	if strings.TrimSpace(src) == "" {
		return dst
	}
	if strings.TrimSpace(dst) == "" {
		return strings.TrimSpace(src)
	}
	have := make(map[string]bool)
	for _, seg := range splitText(dst, sep) {
		have[seg] = true
	}
	out := dst
	for _, seg := range splitText(src, sep) {
		if !have[seg] {
			have[seg] = true
			out += sep + seg
		}
	}
	return out
}

func splitText(s, sep string) []string {
	parts := []string{s}
	if strings.TrimSpace(sep) != "" {
		parts = strings.Split(s, strings.TrimSpace(sep))
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// without returns list minus the values in drop.
func without(list, drop []string) []string {
	var out []string
	for _, v := range list {
		keep := true
		for _, d := range drop {
			if v == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, v)
		}
	}
	return out
}

func union(dst, src []string) []string {
	for _, v := range src {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// unionAliases adds names not already present, comparing by name key and
// ignoring the record's own name.
func unionAliases(aliases []string, own string, names ...string) []string {
	ownKey := normalize.NameKey(own)
	for _, n := range names {
		k := normalize.NameKey(n)
		if k == "" || k == ownKey {
			continue
		}
		dup := false
		for _, a := range aliases {
			if normalize.NameKey(a) == k {
				dup = true
				break
			}
		}
		if !dup {
			aliases = append(aliases, n)
		}
	}
	return aliases
}

func containsSource(list []contact.Source, s contact.Source) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
