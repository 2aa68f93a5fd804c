package server

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/llm"
	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/operations"
	"github.com/Epistemic-Technology/batiment-compare/internal/storage"
	"github.com/Epistemic-Technology/batiment-compare/resources"
	"github.com/Epistemic-Technology/batiment-compare/tools"
)

func CreateServer(cfg config.Config, log logger.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "batiment-compare", Version: "v0.1.0"}, nil)

	store, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize storage: %v", err)
	}

	svc := operations.New(cfg, store, NewJudge(cfg, log), log)
	RegisterTools(server, svc, store, log)
	RegisterResources(server, store)

	return server
}

// NewJudge returns the OpenAI judge, or nil when no API key is configured.
// Correction verification then reports a configuration error unless only a
// cost estimate is requested.
func NewJudge(cfg config.Config, log logger.Logger) llm.Judge {
	if cfg.APIKey == "" {
		log.Warn("No OpenAI API key configured; correction verification limited to cost estimates")
		return nil
	}
	return llm.NewOpenAIJudge(cfg.APIKey, cfg.Model, log)
}

func RegisterTools(server *mcp.Server, svc *operations.Service, store storage.Store, log logger.Logger) {
	mcp.AddTool(server, tools.GeometryCompareTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.GeometryCompareQuery) (*mcp.CallToolResult, *tools.GeometryCompareResponse, error) {
		return tools.GeometryCompareToolHandler(ctx, req, query, svc, log)
	})

	mcp.AddTool(server, tools.CorrectionsVerifyTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.CorrectionsVerifyQuery) (*mcp.CallToolResult, *tools.CorrectionsVerifyResponse, error) {
		return tools.CorrectionsVerifyToolHandler(ctx, req, query, svc, log)
	})

	mcp.AddTool(server, tools.TextCompareTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.TextCompareQuery) (*mcp.CallToolResult, *tools.TextCompareResponse, error) {
		return tools.TextCompareToolHandler(ctx, req, query, svc, log)
	})

	mcp.AddTool(server, tools.AnnotationsListTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.AnnotationsListQuery) (*mcp.CallToolResult, *tools.AnnotationsListResponse, error) {
		return tools.AnnotationsListToolHandler(ctx, req, query, svc, log)
	})

	mcp.AddTool(server, tools.RunsListTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.RunsListQuery) (*mcp.CallToolResult, *tools.RunsListResponse, error) {
		return tools.RunsListToolHandler(ctx, req, query, store, log)
	})

	mcp.AddTool(server, tools.DrawingsSearchTool(), func(ctx context.Context, req *mcp.CallToolRequest, query tools.DrawingsSearchQuery) (*mcp.CallToolResult, *tools.DrawingsSearchResponse, error) {
		return tools.DrawingsSearchToolHandler(ctx, req, query, log)
	})
}

func RegisterResources(server *mcp.Server, store storage.Store) {
	handler := resources.NewComparisonResourceHandler(store)

	// Template for run summary
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "comparison://{runId}",
		Name:        "comparison-run",
		Description: "Summary of a stored comparison run with its resource URIs",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return handler.ReadResource(ctx, req.Params.URI)
	})

	// Template for the full report
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "comparison://{runId}/report",
		Name:        "comparison-report",
		Description: "Full report of a comparison run (discrepancies, verdicts or text differences)",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return handler.ReadResource(ctx, req.Params.URI)
	})

	// Template for the annotated PDF
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "comparison://{runId}/pdf",
		Name:        "comparison-pdf",
		Description: "Final PDF with the comparison results burned in as annotations",
		MIMEType:    "application/pdf",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return handler.ReadResource(ctx, req.Params.URI)
	})

	// Template for the annotated reference PDF (word diff deletions)
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "comparison://{runId}/reference-pdf",
		Name:        "comparison-reference-pdf",
		Description: "Reference PDF with the words deleted in the final version highlighted",
		MIMEType:    "application/pdf",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return handler.ReadResource(ctx, req.Params.URI)
	})
}

// initializeStorage creates and initializes the storage backend
func initializeStorage(cfg config.Config, log logger.Logger) (storage.Store, error) {
	dbPath, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, err
	}

	log.Info("Initializing SQLite database at: %s", dbPath)

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite store: %w", err)
	}

	return store, nil
}
