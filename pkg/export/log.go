package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hazyhaar/contacts-merger/pkg/merge"
)

// StampLayout formats the timestamp embedded in output and log file names.
const StampLayout = "20060102_150405"

// RunInfo describes the run a log belongs to.
type RunInfo struct {
	ID      string    `json:"run_id"`
	Started time.Time `json:"started_at"`
	Google  string    `json:"google_file"`
	MSSQL   []string  `json:"mssql_files"`
	Output  string    `json:"output_file,omitempty"`
	DryRun  bool      `json:"dry_run"`
}

// WriteTextLog renders the run header, the summary and one line per
// report entry followed by its changes and issues.
func WriteTextLog(w io.Writer, info RunInfo, res *merge.Result) error {
	s := res.Summary()
	output := info.Output
	if info.DryRun {
		output = "(dry run, not written)"
	}

	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", info.ID)
	fmt.Fprintf(tw, "started\t%s\n", info.Started.Format(time.RFC3339))
	fmt.Fprintf(tw, "google\t%s\n", info.Google)
	for _, m := range info.MSSQL {
		fmt.Fprintf(tw, "mssql\t%s\n", m)
	}
	fmt.Fprintf(tw, "output\t%s\n", output)
	fmt.Fprintf(tw, "dry-run\t%t\n", info.DryRun)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s\n\n", FormatSummary(s))

	for _, e := range res.Report.Entries {
		line := fmt.Sprintf("[%s] %s", e.Kind, e.Provenance)
		if e.Name != "" {
			line += fmt.Sprintf(" %q", e.Name)
		}
		if e.Key != "" {
			line += " " + e.Key
		}
		if e.Target != nil {
			line += " -> " + e.Target.String()
		}
		if e.Detail != "" {
			line += ": " + e.Detail
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		for _, c := range e.Changes {
			fmt.Fprintf(w, "    %s: %q -> %q\n", c.Field, c.Before, c.After)
		}
		for _, is := range e.Issues {
			fmt.Fprintf(w, "    issue: %s\n", is)
		}
	}
	return nil
}

// FormatSummary renders counts on one line.
func FormatSummary(s merge.Summary) string {
	return fmt.Sprintf("input %d, output %d: kept %d, merged %d, skipped %d, malformed %d",
		s.Input, s.Output, s.Kept, s.Merged, s.Skipped, s.Malformed)
}

type jsonLog struct {
	Run     RunInfo       `json:"run"`
	Summary merge.Summary `json:"summary"`
	Details []merge.Entry `json:"details"`
}

// WriteJSONLog writes the run, its summary and every report entry.
func WriteJSONLog(w io.Writer, info RunInfo, res *merge.Result) error {
	details := res.Report.Entries
	if details == nil {
		details = []merge.Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(jsonLog{Run: info, Summary: res.Summary(), Details: details})
}

// csvLogHeader is the column layout of the CSV change report.
var csvLogHeader = []string{
	"run_id", "kind", "source", "file", "line", "name", "key",
	"target", "field", "before", "after", "detail", "issues",
}

// WriteCSVLog writes the change report as a spreadsheet: one row per
// changed field, or a single row for entries without changes.
func WriteCSVLog(w io.Writer, info RunInfo, res *merge.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvLogHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range res.Report.Entries {
		target := ""
		if e.Target != nil {
			target = e.Target.String()
		}
		base := []string{
			info.ID, string(e.Kind), string(e.Provenance.Source), e.Provenance.File,
			strconv.Itoa(e.Provenance.Line), e.Name, e.Key, target,
		}
		tail := []string{e.Detail, strings.Join(e.Issues, "; ")}
		changes := e.Changes
		if len(changes) == 0 {
			changes = []merge.Change{{}}
		}
		for _, c := range changes {
			row := append(append(append([]string{}, base...), c.Field, c.Before, c.After), tail...)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write entry %s: %w", e.Provenance, err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// LogPaths returns the text, JSON and CSV log paths for run id started
// at t. The first eight characters of id keep runs started in the same
// second apart.
func LogPaths(dir string, t time.Time, id string) []string {
	name := "merge_log_" + t.Format(StampLayout)
	if short := shortID(id); short != "" {
		name += "_" + short
	}
	base := filepath.Join(dir, name)
	return []string{base + ".txt", base + ".json", base + ".csv"}
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// WriteLogs writes the text, JSON and CSV logs into dir and returns the
// paths written.
func WriteLogs(dir string, info RunInfo, res *merge.Result) ([]string, error) {
	paths := LogPaths(dir, info.Started, info.ID)
	writers := []struct {
		kind  string
		write func(io.Writer, RunInfo, *merge.Result) error
	}{
		{"text", WriteTextLog},
		{"json", WriteJSONLog},
		{"csv", WriteCSVLog},
	}
	for i, lw := range writers {
		if err := WriteFileAtomic(paths[i], func(w io.Writer) error {
			return lw.write(w, info, res)
		}); err != nil {
			return paths[:i], fmt.Errorf("%s log: %w", lw.kind, err)
		}
	}
	return paths, nil
}

// DefaultOutputPath places the merged file next to the primary export,
// in an output directory.
func DefaultOutputPath(googlePath string, t time.Time) string {
	dir := filepath.Join(filepath.Dir(googlePath), "output")
	return filepath.Join(dir, "merged_contacts_"+t.Format(StampLayout)+".csv")
}
