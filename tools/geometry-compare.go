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

type GeometryCompareQuery struct {
	Reference DocumentSource `json:"reference"`
	Final     DocumentSource `json:"final"`
	Tolerance float64        `json:"tolerance,omitempty"` // Absolute tolerance in points (default 1.0)
	Annotate  bool           `json:"annotate,omitempty"`  // Burn discrepancies into a copy of the final PDF
}

type GeometryCompareResponse struct {
	Report          *models.GeometryReport `json:"report"`
	AnnotatedPDFURI string                 `json:"annotated_pdf_uri,omitempty"`
}

func GeometryCompareTool() *mcp.Tool {
	inputschema, err := jsonschema.For[GeometryCompareQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "geometry-compare",
		Description: "Compare page sizes and main image boxes of a reference and a final drawing set, page by page. Each page pair is classified as match, page-size-mismatch, image-size-mismatch, missing-image or unknown. Sources may be a local path, URL, Zotero attachment key or raw bytes.",
		InputSchema: inputschema,
	}
}

func GeometryCompareToolHandler(ctx context.Context, req *mcp.CallToolRequest, query GeometryCompareQuery, svc *operations.Service, log logger.Logger) (*mcp.CallToolResult, *GeometryCompareResponse, error) {
	log.Info("geometry-compare tool called")

	if query.Tolerance < 0 {
		return nil, nil, fmt.Errorf("tolerance must not be negative")
	}
	if query.Tolerance > 0 {
		cfg := svc.Config()
		cfg.Tolerance = query.Tolerance
		svc = svc.WithConfig(cfg)
	}

	report, annotated, err := svc.CompareGeometry(ctx, pairRequest(query.Reference, query.Final, query.Annotate))
	if err != nil {
		return nil, nil, err
	}

	return nil, &GeometryCompareResponse{
		Report:          report,
		AnnotatedPDFURI: annotatedPath(report.RunID, annotated),
	}, nil
}
