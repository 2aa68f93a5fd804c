package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/storage"
)

// ComparisonResourceHandler serves stored comparison runs
type ComparisonResourceHandler struct {
	store storage.Store
}

// NewComparisonResourceHandler creates a new comparison resource handler
func NewComparisonResourceHandler(store storage.Store) *ComparisonResourceHandler {
	return &ComparisonResourceHandler{store: store}
}

// ListResources returns a list of available resources
func (h *ComparisonResourceHandler) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	runs, err := h.store.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var resources []mcp.Resource
	for _, run := range runs {
		paths := storage.CalculateResourcePaths(run)
		resources = append(resources, mcp.Resource{
			URI:         paths[0],
			Name:        fmt.Sprintf("%s run %s", run.Mode, run.RunID),
			Description: run.Summary,
			MIMEType:    "application/json",
		}, mcp.Resource{
			URI:         paths[1],
			Name:        fmt.Sprintf("%s run %s (Report)", run.Mode, run.RunID),
			Description: "Full comparison report",
			MIMEType:    "application/json",
		})
		for _, path := range paths[2:] {
			resource := mcp.Resource{
				URI:         path,
				Name:        fmt.Sprintf("%s run %s (Annotated PDF)", run.Mode, run.RunID),
				Description: "Final PDF with the comparison results burned in",
				MIMEType:    "application/pdf",
			}
			if strings.HasSuffix(path, "/reference-pdf") {
				resource.Name = fmt.Sprintf("%s run %s (Annotated reference PDF)", run.Mode, run.RunID)
				resource.Description = "Reference PDF with the deleted words highlighted"
			}
			resources = append(resources, resource)
		}
	}

	return resources, nil
}

// ReadResource reads a specific resource by URI
func (h *ComparisonResourceHandler) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	runID, part, err := storage.ParseResourceURI(uri)
	if err != nil {
		return nil, err
	}

	if part == "pdf" || part == "reference-pdf" {
		get := h.store.GetRunPDF
		if part == "reference-pdf" {
			get = h.store.GetRunReferencePDF
		}
		data, err := get(ctx, runID)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{
					URI:      uri,
					MIMEType: "application/pdf",
					Blob:     data,
				},
			},
		}, nil
	}

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	var content string
	switch part {
	case "":
		summary, err := json.MarshalIndent(struct {
			Run       any      `json:"run"`
			Resources []string `json:"resources"`
		}{run.Info, storage.CalculateResourcePaths(run.Info)}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run summary: %w", err)
		}
		content = string(summary)
	case "report":
		content = string(run.Report)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     content,
			},
		},
	}, nil
}
