package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/operations"
)

type DrawingsSearchQuery struct {
	Query      string   `json:"query,omitempty"`      // Quick search text (searches title, creator, year)
	Tags       []string `json:"tags,omitempty"`       // Filter by tags (e.g. phase or revision)
	Collection string   `json:"collection,omitempty"` // Filter by collection key (optional)
	Limit      int      `json:"limit,omitempty"`      // Max results (default 25)
	Sort       string   `json:"sort,omitempty"`       // Sort field (default "dateModified")
}

type DrawingsSearchResponse struct {
	Items []DrawingSetResult `json:"items"`
	Count int                `json:"count"`
}

type DrawingSetResult struct {
	Key      string          `json:"key"`
	Title    string          `json:"title"`
	Creators []string        `json:"creators,omitempty"`
	ItemType string          `json:"item_type"`
	Date     string          `json:"date,omitempty"`
	PDFs     []AttachmentPDF `json:"pdfs"`
}

type AttachmentPDF struct {
	Key      string `json:"key"` // Use this as zotero_id in the comparison tools
	Filename string `json:"filename"`
	LinkMode string `json:"link_mode"`
}

func DrawingsSearchTool() *mcp.Tool {
	inputschema, err := jsonschema.For[DrawingsSearchQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "drawings-search",
		Description: "Search a Zotero library for drawing sets with PDF attachments. Use the attachment keys as zotero_id for the reference or final document of the comparison tools.",
		InputSchema: inputschema,
	}
}

func DrawingsSearchToolHandler(ctx context.Context, req *mcp.CallToolRequest, query DrawingsSearchQuery, log logger.Logger) (*mcp.CallToolResult, *DrawingsSearchResponse, error) {
	log.Info("drawings-search tool called")

	zoteroAPIKey := os.Getenv("ZOTERO_API_KEY")
	if zoteroAPIKey == "" {
		return nil, nil, fmt.Errorf("ZOTERO_API_KEY environment variable not set")
	}
	libraryID := os.Getenv("ZOTERO_LIBRARY_ID")
	if libraryID == "" {
		return nil, nil, fmt.Errorf("ZOTERO_LIBRARY_ID environment variable not set")
	}

	sets, err := operations.SearchDrawings(ctx, zoteroAPIKey, libraryID, operations.DrawingSearchParams{
		Query:      query.Query,
		Tags:       query.Tags,
		Collection: query.Collection,
		Limit:      query.Limit,
		Sort:       query.Sort,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	results := make([]DrawingSetResult, len(sets))
	for i, set := range sets {
		results[i] = DrawingSetResult{
			Key:      set.Key,
			Title:    set.Title,
			Creators: set.Creators,
			ItemType: set.ItemType,
			Date:     set.Date,
		}
		for _, att := range set.PDFs {
			results[i].PDFs = append(results[i].PDFs, AttachmentPDF{
				Key:      att.Key,
				Filename: att.Filename,
				LinkMode: att.LinkMode,
			})
		}
	}

	return nil, &DrawingsSearchResponse{Items: results, Count: len(results)}, nil
}
