package storage

import (
	"context"
	"errors"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// ErrNotFound is returned when a run id is not in the store.
var ErrNotFound = errors.New("run not found")

// Run is a finished comparison: its summary row, the mode's report as JSON
// and, optionally, the annotated final and reference PDFs.
type Run struct {
	Info         models.RunInfo
	Report       []byte
	AnnotatedPDF []byte
	ReferencePDF []byte
}

// Store defines the interface for persisting comparison runs
type Store interface {
	// SaveRun stores a run, replacing any run with the same id
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves the summary and report of a run (without the PDF)
	GetRun(ctx context.Context, runID string) (*Run, error)

	// GetRunPDF retrieves the annotated final PDF of a run
	GetRunPDF(ctx context.Context, runID string) ([]byte, error)

	// GetRunReferencePDF retrieves the annotated reference PDF of a run
	GetRunReferencePDF(ctx context.Context, runID string) ([]byte, error)

	// ListRuns returns all stored runs, newest first
	ListRuns(ctx context.Context) ([]models.RunInfo, error)

	// DeleteRun removes a run
	DeleteRun(ctx context.Context, runID string) error

	// Close closes the database connection
	Close() error
}
