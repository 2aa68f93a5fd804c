package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/operations"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

type CorrectionsVerifyQuery struct {
	Reference        DocumentSource `json:"reference"`
	Final            DocumentSource `json:"final"`
	CostEstimateOnly bool           `json:"cost_estimate_only,omitempty"` // Estimate judge calls without making them
	Annotate         bool           `json:"annotate,omitempty"`           // Burn verdicts into a copy of the final PDF
}

type CorrectionsVerifyResponse struct {
	Report          *models.VerificationReport `json:"report"`
	AnnotatedPDFURI string                     `json:"annotated_pdf_uri,omitempty"`
}

func CorrectionsVerifyTool() *mcp.Tool {
	inputschema, err := jsonschema.For[CorrectionsVerifyQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "corrections-verify",
		Description: "Check whether each comment annotation of the reference drawing set was carried out in the final drawing set. Every comment is judged once by the configured model and labelled implemented, partial, not-implemented or unknown. Use cost_estimate_only to see the number of model calls first.",
		InputSchema: inputschema,
	}
}

func CorrectionsVerifyToolHandler(ctx context.Context, req *mcp.CallToolRequest, query CorrectionsVerifyQuery, svc *operations.Service, log logger.Logger) (*mcp.CallToolResult, *CorrectionsVerifyResponse, error) {
	log.Info("corrections-verify tool called")

	if query.CostEstimateOnly {
		cfg := svc.Config()
		cfg.CostEstimateOnly = true
		svc = svc.WithConfig(cfg)
	}

	report, annotated, err := svc.VerifyCorrections(ctx, pairRequest(query.Reference, query.Final, query.Annotate))
	if err != nil {
		if report == nil {
			return nil, nil, err
		}
		// Cancelled part-way: hand back what was judged.
		log.Warn("Verification interrupted: %v", err)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Verification interrupted after %d annotations: %v", len(report.Verdicts), err)},
			},
		}, &CorrectionsVerifyResponse{Report: report}, nil
	}

	return nil, &CorrectionsVerifyResponse{
		Report:          report,
		AnnotatedPDFURI: annotatedPath(report.RunID, annotated),
	}, nil
}
