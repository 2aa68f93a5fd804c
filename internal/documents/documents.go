package documents

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Epistemic-Technology/zotero/zotero"
	"golang.org/x/crypto/blake2b"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// maxDownloadSize caps URL downloads. Plan sets rarely exceed a few hundred MB.
const maxDownloadSize = 512 << 20

// ErrNoSource is returned when a SourceInfo names no location at all.
var ErrNoSource = errors.New("no document source provided")

// DetectDocumentType determines the type of document from the raw data
// by checking magic bytes/headers
func DetectDocumentType(data []byte) string {
	if len(data) == 0 {
		return "unknown"
	}

	// Some producers emit a few junk bytes before the header; readers accept
	// the header anywhere in the first kilobyte.
	head := data[:min(len(data), 1024)]
	if bytes.HasPrefix(data, []byte("%PDF")) || bytes.Contains(head, []byte("%PDF-")) {
		return "pdf"
	}

	if len(data) >= 4 && data[0] == 0x50 && data[1] == 0x4B &&
		(data[2] == 0x03 || data[2] == 0x05 || data[2] == 0x07) {
		return "zip"
	}

	if isLikelyText(data) {
		return "txt"
	}

	return "unknown"
}

// isLikelyText checks if the data is likely plain text (no binary content)
func isLikelyText(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sample := data[:min(len(data), 512)]
	if bytes.Contains(sample, []byte{0}) {
		return false
	}

	printable := 0
	for _, b := range sample {
		if (b >= 32 && b <= 126) || b == '\n' || b == '\r' || b == '\t' {
			printable++
		}
	}

	return float64(printable)/float64(len(sample)) > 0.9
}

// DocumentID is the hex BLAKE2b-256 digest of the document bytes. The same
// drawing set always maps to the same id whatever its source.
func DocumentID(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GetData retrieves document data from a source and detects its type.
// Sources are tried in the order raw bytes, local path, Zotero, URL.
func GetData(ctx context.Context, sourceInfo models.SourceInfo) (models.DocumentData, error) {
	var data []byte
	var err error

	switch {
	case len(sourceInfo.RawData) > 0:
		data = sourceInfo.RawData
	case sourceInfo.Path != "":
		data, err = GetFromPath(sourceInfo.Path)
	case sourceInfo.ZoteroID != "":
		zoteroAPIKey := os.Getenv("ZOTERO_API_KEY")
		libraryID := os.Getenv("ZOTERO_LIBRARY_ID")
		data, err = GetFromZotero(ctx, sourceInfo.ZoteroID, zoteroAPIKey, libraryID)
	case sourceInfo.URL != "":
		data, err = GetFromURL(ctx, sourceInfo.URL)
	default:
		return models.DocumentData{}, ErrNoSource
	}
	if err != nil {
		return models.DocumentData{}, err
	}

	if len(data) == 0 {
		return models.DocumentData{}, errors.New("no data retrieved")
	}

	return models.DocumentData{
		ID:   DocumentID(data),
		Data: data,
		Type: DetectDocumentType(data),
	}, nil
}

// GetPDF is GetData restricted to PDF documents.
func GetPDF(ctx context.Context, sourceInfo models.SourceInfo) (models.DocumentData, error) {
	doc, err := GetData(ctx, sourceInfo)
	if err != nil {
		return doc, err
	}
	if doc.Type != "pdf" {
		return models.DocumentData{}, fmt.Errorf("expected a PDF document, got %s", doc.Type)
	}
	return doc, nil
}

// GetFromPath reads a document from the local filesystem
func GetFromPath(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// GetFromURL fetches document data from a URL
func GetFromURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
}

// GetFromZotero fetches document data from a Zotero library
func GetFromZotero(ctx context.Context, zoteroID string, apiKey string, libraryID string) ([]byte, error) {
	if apiKey == "" || libraryID == "" {
		return nil, errors.New("ZOTERO_API_KEY and ZOTERO_LIBRARY_ID are required for Zotero sources")
	}
	client := zotero.NewClient(libraryID, zotero.LibraryTypeUser, zotero.WithAPIKey(apiKey))
	data, err := client.File(ctx, zoteroID)
	if err != nil {
		return nil, err
	}
	return data, nil
}
