package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/operations"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

type AnnotationsListQuery struct {
	Document DocumentSource `json:"document"`
}

type AnnotationsListResponse struct {
	Annotations []models.Annotation `json:"annotations"`
	Count       int                 `json:"count"`
}

func AnnotationsListTool() *mcp.Tool {
	inputschema, err := jsonschema.For[AnnotationsListQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "annotations-list",
		Description: "List the comment annotations (sticky notes, free text and popups) of a PDF in page order, with their ids, authors and positions. These are the comments corrections-verify will judge.",
		InputSchema: inputschema,
	}
}

func AnnotationsListToolHandler(ctx context.Context, req *mcp.CallToolRequest, query AnnotationsListQuery, svc *operations.Service, log logger.Logger) (*mcp.CallToolResult, *AnnotationsListResponse, error) {
	log.Info("annotations-list tool called")

	annotations, err := svc.ListAnnotations(ctx, query.Document.sourceInfo())
	if err != nil {
		return nil, nil, err
	}
	if annotations == nil {
		annotations = []models.Annotation{}
	}

	return nil, &AnnotationsListResponse{
		Annotations: annotations,
		Count:       len(annotations),
	}, nil
}
