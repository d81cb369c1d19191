// Package pipeline runs one merge end to end: read the exports, merge,
// write the CSV unless dry-run, write the logs and record the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/contacts-merger/pkg/config"
	"github.com/hazyhaar/contacts-merger/pkg/contact"
	"github.com/hazyhaar/contacts-merger/pkg/export"
	"github.com/hazyhaar/contacts-merger/pkg/history"
	"github.com/hazyhaar/contacts-merger/pkg/kit"
	"github.com/hazyhaar/contacts-merger/pkg/merge"
	"github.com/hazyhaar/contacts-merger/pkg/normalize"
	"github.com/hazyhaar/contacts-merger/pkg/source"
)

var (
	// ErrBusy is returned when a merge is already running.
	ErrBusy = errors.New("a merge is already running")
	// ErrRequest is returned for a request missing inputs or reusing an
	// input as output.
	ErrRequest = errors.New("invalid merge request")
)

// Request names the inputs and outputs of one run.
type Request struct {
	Google string   `json:"google"`
	MSSQL  []string `json:"mssql"`
	// Output defaults to an output directory next to Google.
	Output string `json:"output,omitempty"`
	// LogDir defaults to the configured log dir, then the output's dir.
	LogDir string `json:"log_dir,omitempty"`
	DryRun bool   `json:"dry_run"`
}

// Outcome is what a finished run reports back to the shell.
type Outcome struct {
	RunID string `json:"run_id"`
	// Output is empty for a dry run.
	Output  string        `json:"output,omitempty"`
	Logs    []string      `json:"logs"`
	DryRun  bool          `json:"dry_run"`
	Summary merge.Summary `json:"summary"`
	Result  *merge.Result `json:"-"`
}

// Runner executes merges one at a time.
type Runner struct {
	cfg    config.Config
	env    *source.Env
	engine *merge.Engine
	hist   *history.DB
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// New builds a runner from cfg. hist may be nil.
func New(cfg config.Config, hist *history.DB, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	phones, err := normalize.NewPhone(cfg.Phone)
	if err != nil {
		return nil, fmt.Errorf("phone config: %w", err)
	}
	groups, err := normalize.NewGroups(cfg.Groups)
	if err != nil {
		return nil, fmt.Errorf("group config: %w", err)
	}

	opts := cfg.Merge
	opts.NewRecordGroups = canonicalGroups(groups, opts.NewRecordGroups)
	opts.ProtectedGroups = canonicalGroups(groups, opts.ProtectedGroups)

	return &Runner{
		cfg: cfg,
		env: &source.Env{
			Phones:           phones,
			Groups:           groups,
			FallbackEncoding: cfg.Input.FallbackEncoding,
			MSSQL:            cfg.MSSQL,
			Logger:           logger,
		},
		engine: merge.New(opts),
		hist:   hist,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Busy reports whether a run is in progress.
func (r *Runner) Busy() bool {
	if r.mu.TryLock() {
		r.mu.Unlock()
		return false
	}
	return true
}

// Run executes req. Input errors abort the run before anything is
// written. Bad rows never do; they end up in the report.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	started := r.now()
	req, err := r.resolve(req, started)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx = kit.WithRunID(ctx, id)
	logger := r.logger.With("run", id, "transport", kit.GetTransport(ctx))
	logger.Info("merge started", "google", req.Google, "mssql", req.MSSQL, "dry_run", req.DryRun)

	if r.hist != nil {
		if err := r.hist.Begin(id, started, req.Google, req.MSSQL, req.DryRun); err != nil {
			logger.Warn("history begin failed", "error", err)
		}
	}

	out, err := r.run(ctx, id, req, started, logger)
	if err != nil {
		logger.Error("merge failed", "error", err)
	}
	r.finish(id, req, out, err, logger)
	return out, err
}

func (r *Runner) run(ctx context.Context, id string, req Request, started time.Time, logger *slog.Logger) (*Outcome, error) {
	primary, err := r.read(ctx, "google-csv", req.Google)
	if err != nil {
		return nil, err
	}
	var secondaries [][]contact.Record
	for _, path := range req.MSSQL {
		recs, err := r.read(ctx, "mssql-csv", path)
		if err != nil {
			return nil, err
		}
		secondaries = append(secondaries, recs)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := r.engine.Run(primary, secondaries...)
	out := &Outcome{RunID: id, DryRun: req.DryRun, Summary: res.Summary(), Result: res}
	logger.Info("merge computed", "summary", export.FormatSummary(out.Summary))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.DryRun {
		if err := export.WriteCSVFile(req.Output, res.Records, r.cfg.Output); err != nil {
			return out, fmt.Errorf("write output: %w", err)
		}
		out.Output = req.Output
		logger.Info("output written", "path", req.Output, "records", len(res.Records))
	}

	info := export.RunInfo{
		ID: id, Started: started,
		Google: req.Google, MSSQL: req.MSSQL,
		Output: req.Output, DryRun: req.DryRun,
	}
	logs, err := export.WriteLogs(req.LogDir, info, res)
	out.Logs = logs
	if err != nil {
		return out, fmt.Errorf("write log: %w", err)
	}
	logger.Info("log written", "paths", logs)
	return out, nil
}

func (r *Runner) read(ctx context.Context, readerID, path string) ([]contact.Record, error) {
	rd, err := source.Get(readerID)
	if err != nil {
		return nil, err
	}
	recs, err := rd.Read(ctx, path, r.env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rd.Description(), err)
	}
	return recs, nil
}

func (r *Runner) finish(id string, req Request, out *Outcome, runErr error, logger *slog.Logger) {
	if r.hist == nil {
		return
	}
	var c history.Counts
	var output string
	if out != nil {
		s := out.Summary
		c = history.Counts{Input: s.Input, Kept: s.Kept, Merged: s.Merged, Skipped: s.Skipped, Malformed: s.Malformed, Records: s.Output}
		output = out.Output
	}
	if err := r.hist.Finish(id, output, c, runErr); err != nil {
		logger.Warn("history finish failed", "error", err)
	}
}

// resolve fills default paths and rejects requests that cannot run.
func (r *Runner) resolve(req Request, started time.Time) (Request, error) {
	if req.Google == "" {
		return req, fmt.Errorf("%w: no Google contacts file", ErrRequest)
	}
	if len(req.MSSQL) == 0 {
		return req, fmt.Errorf("%w: no MSSQL file", ErrRequest)
	}
	if req.Output == "" {
		req.Output = export.DefaultOutputPath(req.Google, started)
	}
	if req.LogDir == "" {
		req.LogDir = r.cfg.LogDir
	}
	if req.LogDir == "" {
		req.LogDir = filepath.Dir(req.Output)
	}

	out := filepath.Clean(req.Output)
	for _, in := range append([]string{req.Google}, req.MSSQL...) {
		if filepath.Clean(in) == out {
			return req, fmt.Errorf("%w: output %s would overwrite an input", ErrRequest, req.Output)
		}
	}
	return req, nil
}

func canonicalGroups(g *normalize.Groups, labels []string) []string {
	var out []string
	for _, l := range labels {
		if c := g.Normalize(l); c != "" {
			out = append(out, c)
		}
	}
	return out
}
