package operations

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Epistemic-Technology/batiment-compare/internal/geometry"
	"github.com/Epistemic-Technology/batiment-compare/internal/pdf"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

// CompareGeometry runs Mode 1 over every page both documents have.
func (s *Service) CompareGeometry(ctx context.Context, req Request) (*models.GeometryReport, []byte, error) {
	ref, final, err := s.loadPair(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	pages := min(ref.codec.PageCount(), final.codec.PageCount())
	refPages, refWarnings := s.geometries(ref, pages)
	finalPages, finalWarnings := s.geometries(final, pages)

	eps := s.cfg.Tolerance
	if eps <= 0 {
		eps = geometry.DefaultTolerance
	}
	discrepancies, _ := geometry.ComparePages(refPages, finalPages, eps)

	report := &models.GeometryReport{
		ReportHeader:  newHeader(models.ModeGeometry, ref, final),
		Tolerance:     eps,
		Discrepancies: discrepancies,
	}
	report.Warnings = geometry.UnpairedWarnings(ref.codec.PageCount(), final.codec.PageCount())
	report.Warnings = append(report.Warnings, refWarnings...)
	report.Warnings = append(report.Warnings, finalWarnings...)

	var overlays []pdf.Overlay
	for _, d := range discrepancies {
		if d.Class != models.ClassMatch && d.Region != nil {
			overlays = append(overlays, pdf.Overlay{
				PageIndex: d.PageIndex,
				Rect:      *d.Region,
				Color:     pdf.Red,
				Title:     string(d.Class),
				Contents:  d.Message,
			})
		}
		for _, p := range d.Images {
			if !p.Changed || p.Final == nil || (d.Region != nil && *d.Region == *p.Final) {
				continue
			}
			overlays = append(overlays, pdf.Overlay{
				PageIndex: d.PageIndex,
				Rect:      *p.Final,
				Color:     pdf.Red,
				Title:     "image-pair",
				Contents:  geometry.PairMessage(p),
			})
		}
	}

	summary := geometrySummary(len(discrepancies), geometry.Summary(discrepancies))
	s.log.Info("Geometry comparison: %s", summary)

	out, err := s.finish(ctx, req, &report.ReportHeader, ref, final, overlays, nil, summary, report)
	if err != nil {
		return nil, nil, err
	}
	return report, out.final, nil
}

// geometries reads the first pages of doc. A page that cannot be read is
// left nil, so that it is classified unknown, and reported as a warning.
func (s *Service) geometries(doc *document, pages int) ([]*models.PageGeometry, []string) {
	out := make([]*models.PageGeometry, pages)
	var warnings []string
	for page := 0; page < pages; page++ {
		g, err := doc.codec.PageGeometry(page)
		if err != nil {
			s.log.Warn("Geometry of page %d unavailable: %v", page+1, err)
			warnings = append(warnings, fmt.Sprintf("page %d classified unknown: %v", page+1, err))
			continue
		}
		out[page] = &g
	}
	return out, warnings
}

func geometrySummary(pages int, counts map[models.DiscrepancyClass]int) string {
	classes := make([]string, 0, len(counts))
	for class := range counts {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	parts := make([]string, 0, len(classes))
	for _, class := range classes {
		parts = append(parts, fmt.Sprintf("%d %s", counts[models.DiscrepancyClass(class)], class))
	}
	return fmt.Sprintf("%d pages compared: %s", pages, strings.Join(parts, ", "))
}
