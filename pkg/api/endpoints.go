package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/contacts-merger/pkg/history"
	"github.com/hazyhaar/contacts-merger/pkg/kit"
	"github.com/hazyhaar/contacts-merger/pkg/merge"
	"github.com/hazyhaar/contacts-merger/pkg/pipeline"
)

// Shared request/response types used by both HTTP and MCP transports.

type mergeResponse struct {
	*pipeline.Outcome
	Entries []merge.Entry `json:"entries"`
}

type runsResponse struct {
	Runs []history.Run `json:"runs"`
}

type listRunsReq struct {
	Limit int
}

var (
	// errNoHistory is returned by run listing when history_db is empty.
	errNoHistory = errors.New("run history is disabled")
	errBadLimit  = errors.New("bad limit")
)

func mergeEndpoint(runner *pipeline.Runner) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*pipeline.Request)
		out, err := runner.Run(ctx, *req)
		if err != nil {
			return nil, err
		}
		entries := out.Result.Report.Entries
		if entries == nil {
			entries = []merge.Entry{}
		}
		return mergeResponse{Outcome: out, Entries: entries}, nil
	}
}

func listRunsEndpoint(hist *history.DB) kit.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		if hist == nil {
			return nil, errNoHistory
		}
		req := request.(*listRunsReq)
		if req.Limit < 0 || req.Limit > 1000 {
			return nil, fmt.Errorf("%w: must be between 0 and 1000, got %d", errBadLimit, req.Limit)
		}
		runs, err := hist.List(req.Limit)
		if err != nil {
			return nil, err
		}
		return runsResponse{Runs: runs}, nil
	}
}
