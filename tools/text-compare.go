package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/operations"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

type TextCompareQuery struct {
	Reference       DocumentSource `json:"reference"`
	Final           DocumentSource `json:"final"`
	CaseInsensitive bool           `json:"case_insensitive,omitempty"`
	IgnoreQuotes    bool           `json:"ignore_quotes,omitempty"` // Treat curly and straight quotes alike
	Annotate        bool           `json:"annotate,omitempty"`      // Burn extra (blue) text into the final PDF and missing (orange) text into the reference PDF
}

type TextCompareResponse struct {
	Report                   *models.TextDiffReport `json:"report"`
	AnnotatedPDFURI          string                 `json:"annotated_pdf_uri,omitempty"`
	ReferenceAnnotatedPDFURI string                 `json:"reference_annotated_pdf_uri,omitempty"`
}

func TextCompareTool() *mcp.Tool {
	inputschema, err := jsonschema.For[TextCompareQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "text-compare",
		Description: "Word-level diff between the text of a reference and a final drawing set. Inserted and deleted words are grouped into nearby regions per page; words that moved elsewhere on the page are flagged.",
		InputSchema: inputschema,
	}
}

func TextCompareToolHandler(ctx context.Context, req *mcp.CallToolRequest, query TextCompareQuery, svc *operations.Service, log logger.Logger) (*mcp.CallToolResult, *TextCompareResponse, error) {
	log.Info("text-compare tool called")

	cfg := svc.Config()
	cfg.CaseInsensitive = cfg.CaseInsensitive || query.CaseInsensitive
	cfg.IgnoreQuotes = cfg.IgnoreQuotes || query.IgnoreQuotes

	report, annotated, reference, err := svc.WithConfig(cfg).CompareText(ctx, pairRequest(query.Reference, query.Final, query.Annotate))
	if err != nil {
		return nil, nil, err
	}

	return nil, &TextCompareResponse{
		Report:                   report,
		AnnotatedPDFURI:          annotatedPath(report.RunID, annotated),
		ReferenceAnnotatedPDFURI: referencePath(report.RunID, reference),
	}, nil
}
