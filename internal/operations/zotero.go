package operations

import (
	"context"
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/zotero/zotero"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
)

// DrawingSearchParams filters the Zotero library for drawing sets.
type DrawingSearchParams struct {
	Query      string   // Quick search text (title, creator, year)
	Tags       []string // e.g. "DCE", "EXE", "indice B"
	Collection string   // Collection key, usually one per project
	Limit      int      // Max results (default 25)
	Sort       string   // Sort field (default "dateModified")
}

// DrawingSet is a Zotero item with its PDF attachments. The attachment keys
// are what the comparison tools accept as zotero_id.
type DrawingSet struct {
	Key      string
	Title    string
	Creators []string
	ItemType string
	Date     string
	PDFs     []DrawingAttachment
}

type DrawingAttachment struct {
	Key      string
	Filename string
	LinkMode string
}

// SearchDrawings searches a Zotero library and returns the items that have
// at least one PDF attachment.
func SearchDrawings(ctx context.Context, apiKey, libraryID string, params DrawingSearchParams, log logger.Logger) ([]DrawingSet, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Zotero API key is required")
	}
	if libraryID == "" {
		return nil, fmt.Errorf("Zotero library ID is required")
	}

	client := zotero.NewClient(libraryID, zotero.LibraryTypeUser, zotero.WithAPIKey(apiKey))

	queryParams := &zotero.QueryParams{
		Q:        params.Query,
		QMode:    "titleCreatorYear",
		Tag:      params.Tags,
		ItemType: []string{"-attachment"},
		Limit:    params.Limit,
		Sort:     params.Sort,
	}
	if queryParams.Limit == 0 {
		queryParams.Limit = 25
	}
	if queryParams.Sort == "" {
		queryParams.Sort = "dateModified"
	}

	var items []zotero.Item
	var err error
	if params.Collection != "" {
		items, err = client.CollectionItems(ctx, params.Collection, queryParams)
		if err != nil {
			log.Error("Failed to search collection %s: %v", params.Collection, err)
			return nil, fmt.Errorf("failed to search collection %s: %w", params.Collection, err)
		}
	} else {
		items, err = client.Items(ctx, queryParams)
		if err != nil {
			log.Error("Failed to search Zotero library: %v", err)
			return nil, fmt.Errorf("failed to search Zotero library: %w", err)
		}
	}

	log.Info("Found %d items in Zotero library", len(items))

	results := make([]DrawingSet, 0, len(items))
	for _, item := range items {
		if item.Data.ItemType == "attachment" {
			continue
		}

		children, err := client.Children(ctx, item.Key, nil)
		if err != nil {
			log.Error("Failed to retrieve children for item %s: %v", item.Key, err)
			continue
		}

		set := DrawingSet{
			Key:      item.Key,
			Title:    item.Data.Title,
			ItemType: item.Data.ItemType,
			Date:     item.Data.DateAdded,
		}
		for _, c := range item.Data.Creators {
			if name := creatorName(c.Name, c.FirstName, c.LastName); name != "" {
				set.Creators = append(set.Creators, name)
			}
		}
		for _, child := range children {
			if isPDFAttachment(child.Data.ItemType, child.Data.ContentType, child.Data.Filename) {
				set.PDFs = append(set.PDFs, DrawingAttachment{
					Key:      child.Key,
					Filename: child.Data.Filename,
					LinkMode: child.Data.LinkMode,
				})
			}
		}
		if len(set.PDFs) == 0 {
			continue
		}
		results = append(results, set)
	}

	log.Info("Returning %d drawing sets", len(results))
	return results, nil
}

// creatorName prefers the single-field name used for organisations.
func creatorName(name, first, last string) string {
	if name != "" {
		return name
	}
	return strings.TrimSpace(first + " " + last)
}

func isPDFAttachment(itemType, contentType, filename string) bool {
	if itemType != "attachment" {
		return false
	}
	if contentType == "application/pdf" {
		return true
	}
	return contentType == "" && strings.HasSuffix(strings.ToLower(filename), ".pdf")
}
