package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/storage"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

type RunsListQuery struct {
	Mode  string `json:"mode,omitempty"`  // geometry, verify or textdiff
	Limit int    `json:"limit,omitempty"` // Max results (default all)
}

type RunSummary struct {
	models.RunInfo
	ResourcePaths []string `json:"resource_paths"`
}

type RunsListResponse struct {
	Runs  []RunSummary `json:"runs"`
	Count int          `json:"count"`
}

func RunsListTool() *mcp.Tool {
	inputschema, err := jsonschema.For[RunsListQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "runs-list",
		Description: "List stored comparison runs, newest first, with the resource URIs of their reports and annotated PDFs.",
		InputSchema: inputschema,
	}
}

func RunsListToolHandler(ctx context.Context, req *mcp.CallToolRequest, query RunsListQuery, store storage.Store, log logger.Logger) (*mcp.CallToolResult, *RunsListResponse, error) {
	log.Info("runs-list tool called")

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return nil, nil, err
	}

	results := []RunSummary{}
	for _, run := range runs {
		if query.Mode != "" && string(run.Mode) != query.Mode {
			continue
		}
		results = append(results, RunSummary{RunInfo: run, ResourcePaths: storage.CalculateResourcePaths(run)})
		if query.Limit > 0 && len(results) == query.Limit {
			break
		}
	}

	return nil, &RunsListResponse{Runs: results, Count: len(results)}, nil
}
