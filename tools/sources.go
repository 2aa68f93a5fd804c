package tools

import (
	"github.com/Epistemic-Technology/batiment-compare/internal/operations"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

// DocumentSource names one PDF. Exactly one field should be set.
type DocumentSource struct {
	ZoteroID string `json:"zotero_id,omitempty"`
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	RawData  []byte `json:"raw_data,omitempty"`
}

func (s DocumentSource) sourceInfo() models.SourceInfo {
	return models.SourceInfo{
		ZoteroID: s.ZoteroID,
		URL:      s.URL,
		Path:     s.Path,
		RawData:  s.RawData,
	}
}

func pairRequest(reference, final DocumentSource, annotate bool) operations.Request {
	return operations.Request{
		Reference: reference.sourceInfo(),
		Final:     final.sourceInfo(),
		Annotate:  annotate,
	}
}

// annotatedPath is the resource holding the annotated PDF of a run, when
// one was produced.
func annotatedPath(runID string, annotated []byte) string {
	if len(annotated) == 0 || runID == "" {
		return ""
	}
	return "comparison://" + runID + "/pdf"
}

// referencePath is the resource holding the annotated reference PDF of a
// word diff run.
func referencePath(runID string, reference []byte) string {
	if len(reference) == 0 || runID == "" {
		return ""
	}
	return "comparison://" + runID + "/reference-pdf"
}
