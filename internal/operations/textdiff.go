package operations

import (
	"context"
	"fmt"

	"github.com/Epistemic-Technology/batiment-compare/internal/diff"
	"github.com/Epistemic-Technology/batiment-compare/internal/geometry"
	"github.com/Epistemic-Technology/batiment-compare/internal/merge"
	"github.com/Epistemic-Technology/batiment-compare/internal/pdf"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

// CompareText runs Mode 3: word diff per page pair, then clustering of the
// operations into merged annotations. When annotating, extra text is marked
// on a copy of the final PDF and missing text on a copy of the reference
// PDF; both copies are returned, final first.
func (s *Service) CompareText(ctx context.Context, req Request) (*models.TextDiffReport, []byte, []byte, error) {
	ref, final, err := s.loadPair(ctx, req)
	if err != nil {
		return nil, nil, nil, err
	}

	maxTokens := s.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = diff.DefaultMaxTokens
	}
	diffOpts := diff.Options{
		MaxTokens:       maxTokens,
		CaseInsensitive: s.cfg.CaseInsensitive,
		IgnoreQuotes:    s.cfg.IgnoreQuotes,
	}
	mergeOpts := merge.Options{
		VerticalFactor:   s.cfg.VerticalFactor,
		HorizontalFactor: s.cfg.HorizontalFactor,
	}

	report := &models.TextDiffReport{ReportHeader: newHeader(models.ModeTextDiff, ref, final)}
	report.Warnings = geometry.UnpairedWarnings(ref.codec.PageCount(), final.codec.PageCount())

	var overlays, refOverlays []pdf.Overlay
	total := 0
	pages := min(ref.codec.PageCount(), final.codec.PageCount())
	for page := 0; page < pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}
		refWords, err := ref.codec.Words(page)
		if err != nil {
			return nil, nil, nil, err
		}
		finalWords, err := final.codec.Words(page)
		if err != nil {
			return nil, nil, nil, err
		}

		result := diff.Diff(page, refWords, finalWords, diffOpts)
		merged := merge.Merge(result.Operations, mergeOpts)
		if result.LineLevel {
			s.log.Warn("Page %d has more than %d tokens, compared line by line", page+1, diffOpts.MaxTokens)
			report.Warnings = append(report.Warnings, fmt.Sprintf("page %d compared line by line", page+1))
		}
		if result.Coarse {
			report.Warnings = append(report.Warnings, fmt.Sprintf("page %d too large to align, changed text reported as one block", page+1))
		}

		report.Pages = append(report.Pages, models.PageDiff{
			PageIndex:       page,
			ReferenceTokens: len(refWords),
			FinalTokens:     len(finalWords),
			LineLevel:       result.LineLevel,
			Operations:      len(result.Operations),
			Annotations:     merged,
		})
		total += len(merged)

		refW, refH, err := ref.codec.PageSize(page)
		if err != nil {
			return nil, nil, nil, err
		}
		finalW, finalH, err := final.codec.PageSize(page)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, m := range merged {
			if m.Kind == models.DiffDelete {
				if o := diffOverlay(m, refW, refH); !o.Rect.IsEmpty() {
					refOverlays = append(refOverlays, o)
				}
				continue
			}
			if o := diffOverlay(m, finalW, finalH); !o.Rect.IsEmpty() {
				overlays = append(overlays, o)
			}
		}
	}

	summary := fmt.Sprintf("%d pages compared, %d annotations", pages, total)
	s.log.Info("Text comparison: %s", summary)

	out, err := s.finish(ctx, req, &report.ReportHeader, ref, final, overlays, refOverlays, summary, report)
	if err != nil {
		return nil, nil, nil, err
	}
	return report, out.final, out.reference, nil
}

// diffOverlay marks extra text in blue and missing text in orange, clipped
// to the page it is drawn on.
func diffOverlay(m models.MergedAnnotation, width, height float64) pdf.Overlay {
	o := pdf.Overlay{
		PageIndex: m.PageIndex,
		Rect:      m.Region.Clip(width, height),
		Contents:  m.Text,
	}
	switch m.Kind {
	case models.DiffInsert:
		o.Color = pdf.Blue
		o.Title = "extra"
	default:
		o.Color = pdf.Orange
		o.Title = "missing"
	}
	if m.MovedCount > 0 {
		o.Contents = fmt.Sprintf("%s (moved: %d)", m.Text, m.MovedCount)
	}
	return o
}
