package pdf

import (
	"errors"
	"fmt"
)

// ExtractionError reports a PDF that could not be read. Page is 0-based and
// negative when the failure is not tied to a page.
type ExtractionError struct {
	Document string
	Page     int
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Page >= 0 {
		return fmt.Sprintf("extraction failed for %s document, page %d: %v", e.Document, e.Page+1, e.Err)
	}
	return fmt.Sprintf("extraction failed for %s document: %v", e.Document, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// recoverExtraction turns a panic raised by the PDF parser into an
// ExtractionError assigned to *err.
func recoverExtraction(document string, page int, err *error) {
	if r := recover(); r != nil {
		*err = &ExtractionError{Document: document, Page: page, Err: fmt.Errorf("malformed PDF: %v", r)}
	}
}

// ErrPartialContent marks a page whose content stream stopped parsing
// midway.
var ErrPartialContent = errors.New("content read partially")
