// Package operations runs the three comparison modes end to end: load both
// documents, extract, compare, burn overlays into the final PDF and record
// the run.
package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/documents"
	"github.com/Epistemic-Technology/batiment-compare/internal/llm"
	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/internal/pdf"
	"github.com/Epistemic-Technology/batiment-compare/internal/storage"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

// Codec is the subset of a parsed PDF the modes need.
type Codec interface {
	PageCount() int
	PageSize(page int) (float64, float64, error)
	PageGeometry(page int) (models.PageGeometry, error)
	Words(page int) ([]models.WordToken, error)
	PageText(page int, clip *models.Rect) (string, error)
	AllAnnotations() ([]models.Annotation, error)
	ExtractPage(page int) ([]byte, error)
	Annotate(overlays []pdf.Overlay) ([]byte, error)
	Warnings() []string
}

// OpenFunc parses a document. name is "reference" or "final".
type OpenFunc func(name string, data []byte) (Codec, error)

func openPDF(name string, data []byte) (Codec, error) {
	doc, err := pdf.Open(name, data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Request names the two documents of a comparison.
type Request struct {
	Reference models.SourceInfo
	Final     models.SourceInfo
	// Annotate burns the results into a copy of the final PDF.
	Annotate bool
}

// Service runs comparisons. store and judge may be nil: runs are then not
// recorded, and Mode 2 only works in cost-estimate mode.
type Service struct {
	cfg   config.Config
	store storage.Store
	judge llm.Judge
	log   logger.Logger
	open  OpenFunc
}

type Option func(*Service)

// WithOpener replaces the PDF codec.
func WithOpener(open OpenFunc) Option {
	return func(s *Service) { s.open = open }
}

func New(cfg config.Config, store storage.Store, judge llm.Judge, log logger.Logger, opts ...Option) *Service {
	s := &Service{cfg: cfg, store: store, judge: judge, log: log, open: openPDF}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() config.Config { return s.cfg }

// document is a loaded and parsed input.
type document struct {
	id    string
	codec Codec
}

func (s *Service) load(ctx context.Context, name string, src models.SourceInfo) (*document, error) {
	data, err := documents.GetPDF(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s document: %w", name, err)
	}
	codec, err := s.open(name, data.Data)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Loaded %s document %s (%d pages)", name, data.ID, codec.PageCount())
	return &document{id: data.ID, codec: codec}, nil
}

func (s *Service) loadPair(ctx context.Context, req Request) (*document, *document, error) {
	ref, err := s.load(ctx, "reference", req.Reference)
	if err != nil {
		return nil, nil, err
	}
	final, err := s.load(ctx, "final", req.Final)
	if err != nil {
		return nil, nil, err
	}
	return ref, final, nil
}

func newHeader(mode models.Mode, ref, final *document) models.ReportHeader {
	return models.ReportHeader{
		RunID:              uuid.NewString(),
		Mode:               mode,
		ReferenceID:        ref.id,
		FinalID:            final.id,
		ReferencePageCount: ref.codec.PageCount(),
		FinalPageCount:     final.codec.PageCount(),
		CreatedAt:          time.Now().UTC(),
	}
}

// annotated holds the overlay copies of a run's inputs.
type annotated struct {
	final     []byte
	reference []byte
}

// finish collects codec warnings into the header, burns the overlays when
// requested and records the run. refOverlays go onto the reference copy and
// are only used by modes that mark the reference.
func (s *Service) finish(ctx context.Context, req Request, header *models.ReportHeader, ref, final *document, overlays, refOverlays []pdf.Overlay, summary string, report any) (annotated, error) {
	header.Warnings = append(header.Warnings, ref.codec.Warnings()...)
	header.Warnings = append(header.Warnings, final.codec.Warnings()...)

	var out annotated
	if req.Annotate {
		var err error
		out.final, err = final.codec.Annotate(overlays)
		if err != nil {
			return annotated{}, fmt.Errorf("failed to annotate final PDF: %w", err)
		}
		s.log.Info("Burned %d overlays into final PDF", len(overlays))

		if len(refOverlays) > 0 {
			out.reference, err = ref.codec.Annotate(refOverlays)
			if err != nil {
				return annotated{}, fmt.Errorf("failed to annotate reference PDF: %w", err)
			}
			s.log.Info("Burned %d overlays into reference PDF", len(refOverlays))
		}
	}

	if s.store == nil {
		return out, nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return annotated{}, fmt.Errorf("failed to marshal report: %w", err)
	}
	run := &storage.Run{
		Info: models.RunInfo{
			RunID:           header.RunID,
			Mode:            header.Mode,
			ReferenceID:     header.ReferenceID,
			FinalID:         header.FinalID,
			Summary:         summary,
			HasPDF:          len(out.final) > 0,
			HasReferencePDF: len(out.reference) > 0,
			CreatedAt:       header.CreatedAt,
		},
		Report:       data,
		AnnotatedPDF: out.final,
		ReferencePDF: out.reference,
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		// The comparison itself succeeded; losing the record is not fatal.
		s.log.Error("Failed to save run %s: %v", header.RunID, err)
		header.Warnings = append(header.Warnings, fmt.Sprintf("run not saved: %v", err))
	}
	return out, nil
}

// ListAnnotations returns the comment annotations of a document.
func (s *Service) ListAnnotations(ctx context.Context, src models.SourceInfo) ([]models.Annotation, error) {
	doc, err := s.load(ctx, "reference", src)
	if err != nil {
		return nil, err
	}
	return doc.codec.AllAnnotations()
}

// WithConfig returns a copy of the service using cfg, for per-request
// overrides.
func (s *Service) WithConfig(cfg config.Config) *Service {
	c := *s
	c.cfg = cfg
	return &c
}
