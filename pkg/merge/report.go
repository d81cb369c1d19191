package merge

import "github.com/hazyhaar/contacts-merger/pkg/contact"

// Kind is the outcome of processing one input record.
type Kind string

const (
	KeptAsNew          Kind = "kept-as-new"
	MergedIntoExisting Kind = "merged-into-existing"
	SkippedDuplicate   Kind = "skipped-duplicate"
	MalformedSkipped   Kind = "malformed-skipped"
)

// Change is one field modified on the existing record by a merge.
type Change struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Entry describes what happened to a single input record.
type Entry struct {
	Kind       Kind               `json:"kind"`
	Provenance contact.Provenance `json:"provenance"`
	Name       string             `json:"name,omitempty"`
	Key        string             `json:"key,omitempty"`
	// Target is the existing record this one was merged into or skipped for.
	Target  *contact.Provenance `json:"target,omitempty"`
	Changes []Change            `json:"changes,omitempty"`
	Detail  string              `json:"detail,omitempty"`
	Issues  []string            `json:"issues,omitempty"`
}

// Report is the ordered list of outcomes of one run.
type Report struct {
	Entries []Entry `json:"entries"`
}

func (r *Report) add(e Entry) int {
	r.Entries = append(r.Entries, e)
	return len(r.Entries) - 1
}

// Summary counts report entries per kind.
type Summary struct {
	Kept      int `json:"kept"`
	Merged    int `json:"merged"`
	Skipped   int `json:"skipped"`
	Malformed int `json:"malformed"`
	Input     int `json:"input"`
	Output    int `json:"output"`
}

// Summary returns per-kind counts. Output is filled in by Result.Summary.
func (r *Report) Summary() Summary {
	var s Summary
	for _, e := range r.Entries {
		switch e.Kind {
		case KeptAsNew:
			s.Kept++
		case MergedIntoExisting:
			s.Merged++
		case SkippedDuplicate:
			s.Skipped++
		case MalformedSkipped:
			s.Malformed++
		}
	}
	s.Input = len(r.Entries)
	return s
}
