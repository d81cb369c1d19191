package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/contacts-merger/pkg/api"
	"github.com/hazyhaar/contacts-merger/pkg/config"
	"github.com/hazyhaar/contacts-merger/pkg/export"
	"github.com/hazyhaar/contacts-merger/pkg/history"
	"github.com/hazyhaar/contacts-merger/pkg/pipeline"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "merge":
		cmdMerge(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "runs":
		cmdRuns(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: merger <command> [flags]

Commands:
  merge   Merge a Google Contacts CSV with MSSQL CSV exports
  serve   Start the local web interface
  mcp     Serve the merge tools over MCP (stdio)
  runs    List past runs
`)
}

// stringsFlag collects a repeatable flag.
type stringsFlag []string

func (s *stringsFlag) String() string { return strings.Join(*s, ",") }

func (s *stringsFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// app holds what every command needs.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	hist   *history.DB
	runner *pipeline.Runner
}

func setup(cfgPath string) *app {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, found, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if !found {
		logger.Info("no config file, using defaults", "path", cfgPath)
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.HistoryDB != "" {
		a.hist, err = history.Open(cfg.HistoryDB)
		if err != nil {
			logger.Error("open history", "error", err)
			os.Exit(1)
		}
	}
	a.runner, err = pipeline.New(cfg, a.hist, logger)
	if err != nil {
		logger.Error("init pipeline", "error", err)
		os.Exit(1)
	}
	return a
}

func (a *app) close() {
	if a.hist != nil {
		a.hist.Close()
	}
}

func cmdMerge(args []string) {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	google := fs.String("google", "", "Google Contacts CSV export (primary)")
	var mssql stringsFlag
	fs.Var(&mssql, "mssql", "MSSQL CSV export (repeatable, merged in order)")
	output := fs.String("output", "", "output CSV (default: output/merged_contacts_<timestamp>.csv next to --google)")
	logDir := fs.String("log-dir", "", "directory for merge logs (default: the output directory)")
	dryRun := fs.Bool("dry-run", false, "compute and log the merge without writing the output CSV")
	fs.Parse(args)

	if *google == "" || len(mssql) == 0 {
		fmt.Fprintln(os.Stderr, "merge: --google and at least one --mssql are required")
		fs.Usage()
		os.Exit(1)
	}

	a := setup(*cfgPath)
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := a.runner.Run(ctx, pipeline.Request{
		Google: *google,
		MSSQL:  mssql,
		Output: *output,
		LogDir: *logDir,
		DryRun: *dryRun,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "merge failed: %v\n", err)
		a.close()
		os.Exit(1)
	}

	fmt.Println(export.FormatSummary(out.Summary))
	if out.DryRun {
		fmt.Println("dry run: no output written")
	} else {
		fmt.Printf("output: %s\n", out.Output)
	}
	for _, p := range out.Logs {
		fmt.Printf("log:    %s\n", p)
	}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	a := setup(*cfgPath)
	defer a.close()
	if *addr != "" {
		a.cfg.Addr = *addr
	}

	srv := &http.Server{
		Addr:    a.cfg.Addr,
		Handler: api.NewRouter(a.runner, a.hist, api.Options{WorkDir: a.cfg.WorkDir, Logger: a.logger}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("merger listening", "addr", "http://"+a.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", "error", err)
			a.close()
			os.Exit(1)
		}
	case <-ctx.Done():
		a.logger.Info("shutting down")
		srv.Shutdown(context.Background())
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "path to config file")
	fs.Parse(args)

	a := setup(*cfgPath)
	defer a.close()

	srv := server.NewMCPServer("contacts-merger", version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	api.RegisterMCPTools(srv, a.runner, a.hist, a.logger)

	a.logger.Info("mcp server on stdio")
	if err := server.ServeStdio(srv); err != nil {
		a.logger.Error("mcp server", "error", err)
		a.close()
		os.Exit(1)
	}
}
