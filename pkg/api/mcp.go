package api

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/contacts-merger/pkg/history"
	"github.com/hazyhaar/contacts-merger/pkg/kit"
	"github.com/hazyhaar/contacts-merger/pkg/pipeline"
)

// RegisterMCPTools registers the merge_contacts and list_runs tools.
func RegisterMCPTools(srv *server.MCPServer, runner *pipeline.Runner, hist *history.DB, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	registerMergeContacts(srv, runner, logger)
	registerListRuns(srv, hist, logger)
}

func registerMergeContacts(srv *server.MCPServer, runner *pipeline.Runner, logger *slog.Logger) {
	tool := mcp.NewTool("merge_contacts",
		mcp.WithDescription("Merge a Google Contacts CSV export with one or more MSSQL CSV exports into one deduplicated contacts CSV. Returns the summary and the per-record report."),
		mcp.WithString("google", mcp.Required(), mcp.Description("Path of the Google Contacts CSV (primary source)")),
		mcp.WithArray("mssql", mcp.Required(), mcp.Items(map[string]any{"type": "string"}), mcp.Description("Paths of the MSSQL CSV exports, merged in order")),
		mcp.WithString("output", mcp.Description("Output CSV path (default: output/merged_contacts_<timestamp>.csv next to the Google file)")),
		mcp.WithString("log_dir", mcp.Description("Directory for the merge logs (default: the output directory)")),
		mcp.WithBoolean("dry_run", mcp.Description("Compute the report without writing the contacts file")),
	)

	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, "merge_contacts")(mergeEndpoint(runner)),
		func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
			args := req.GetArguments()
			google, _ := args["google"].(string)
			mssql, err := stringList(args["mssql"])
			if err != nil {
				return nil, fmt.Errorf("mssql: %w", err)
			}
			output, _ := args["output"].(string)
			logDir, _ := args["log_dir"].(string)
			dryRun, _ := args["dry_run"].(bool)
			return &kit.MCPDecodeResult{Request: &pipeline.Request{
				Google: strings.TrimSpace(google),
				MSSQL:  mssql,
				Output: output,
				LogDir: logDir,
				DryRun: dryRun,
			}}, nil
		})
}

func registerListRuns(srv *server.MCPServer, hist *history.DB, logger *slog.Logger) {
	tool := mcp.NewTool("list_runs",
		mcp.WithDescription("List recent merge runs, newest first, with their counts and status."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20, 0 for all)")),
	)

	kit.RegisterMCPTool(srv, tool, kit.Logging(logger, "list_runs")(listRunsEndpoint(hist)),
		func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
			limit := 20
			if v, ok := req.GetArguments()["limit"].(float64); ok {
				limit = int(v)
			}
			return &kit.MCPDecodeResult{Request: &listRunsReq{Limit: limit}}, nil
		})
}

// stringList accepts a JSON array of strings or a single comma-separated
// string.
func stringList(v any) ([]string, error) {
	var out []string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected strings, got %T", item)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	default:
		return nil, fmt.Errorf("expected an array of paths, got %T", v)
	}
	return out, nil
}
