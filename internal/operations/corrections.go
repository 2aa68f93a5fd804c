package operations

import (
	"context"
	"fmt"

	"github.com/Epistemic-Technology/batiment-compare/internal/config"
	"github.com/Epistemic-Technology/batiment-compare/internal/pdf"
	"github.com/Epistemic-Technology/batiment-compare/internal/session"
	"github.com/Epistemic-Technology/batiment-compare/internal/verify"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

// VerifyCorrections runs Mode 2: every comment of the reference PDF is
// judged against the final PDF. On cancellation the partial report is
// returned together with the context error.
func (s *Service) VerifyCorrections(ctx context.Context, req Request) (*models.VerificationReport, []byte, error) {
	sess := session.New(s.log)
	defer sess.Close()

	// Fails before anything is loaded or judged when credentials are missing.
	verifier, err := verify.New(s.judge, sess, s.cfg, s.log)
	if err != nil {
		return nil, nil, err
	}

	ref, final, err := s.loadPair(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	annotations, err := ref.codec.AllAnnotations()
	if err != nil {
		return nil, nil, err
	}

	report := &models.VerificationReport{
		ReportHeader: newHeader(models.ModeVerify, ref, final),
		Model:        s.cfg.Model,
		DryRun:       verifier.DryRun(),
	}

	items := make([]verify.Item, 0, len(annotations))
	for _, a := range annotations {
		item, warning, err := s.buildItem(sess, ref.codec, final.codec, a, verifier.DryRun())
		if err != nil {
			return nil, nil, err
		}
		if warning != "" {
			report.Warnings = append(report.Warnings, warning)
		}
		items = append(items, item)
	}

	report.Estimate = verifier.Estimate(items)
	s.log.Info("Verifying %d annotations (estimated %d calls, %d tokens)", len(items), report.Estimate.Calls, report.Estimate.EstimatedTokens)

	verdicts, verifyErr := verifier.VerifyAll(ctx, items)
	report.Verdicts = verdicts
	report.Invocations = verifier.Invocations()
	if verifyErr != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("verification stopped after %d of %d annotations: %v", len(verdicts), len(items), verifyErr))
		report.Warnings = append(report.Warnings, ref.codec.Warnings()...)
		report.Warnings = append(report.Warnings, final.codec.Warnings()...)
		return report, nil, verifyErr
	}

	var overlays []pdf.Overlay
	if !report.DryRun {
		for _, v := range verdicts {
			if v.Annotation.PageIndex >= final.codec.PageCount() {
				continue
			}
			overlays = append(overlays, verdictOverlay(v))
		}
	}

	summary := verdictSummary(verdicts, report.Invocations)
	s.log.Info("Correction verification: %s", summary)

	out, err := s.finish(ctx, req, &report.ReportHeader, ref, final, overlays, nil, summary, report)
	if err != nil {
		return nil, nil, err
	}
	return report, out.final, nil
}

// buildItem gathers the text around the annotation on both pages and, when
// the judge will be called, the final page itself.
func (s *Service) buildItem(sess *session.Session, ref, final Codec, a models.Annotation, dryRun bool) (verify.Item, string, error) {
	margin := s.cfg.ContextMargin
	if margin <= 0 {
		margin = config.DefaultContextMargin
	}

	item := verify.Item{Annotation: a}
	var err error
	item.ReferenceExcerpt, err = excerpt(ref, a.PageIndex, a.Rect, margin)
	if err != nil {
		return item, "", err
	}

	if a.PageIndex >= final.PageCount() {
		return item, fmt.Sprintf("annotation %s: final has no page %d", a.ID, a.PageIndex+1), nil
	}
	item.FinalExcerpt, err = excerpt(final, a.PageIndex, a.Rect, margin)
	if err != nil {
		return item, "", err
	}

	if !dryRun {
		page, err := sess.CachedFile(fmt.Sprintf("final-page-%d.pdf", a.PageIndex+1), func() ([]byte, error) {
			return final.ExtractPage(a.PageIndex)
		})
		if err != nil {
			// The excerpt alone still lets the judge decide.
			s.log.Warn("Could not attach final page %d for annotation %s: %v", a.PageIndex+1, a.ID, err)
		} else {
			item.FinalPage = page
		}
	}
	return item, "", nil
}

// excerpt returns the page text within margin points of around.
func excerpt(c Codec, page int, around models.Rect, margin float64) (string, error) {
	w, h, err := c.PageSize(page)
	if err != nil {
		return "", err
	}
	clip := around.Expand(margin).Clip(w, h)
	return c.PageText(page, &clip)
}

func verdictOverlay(v models.Verdict) pdf.Overlay {
	o := pdf.Overlay{
		PageIndex: v.Annotation.PageIndex,
		Rect:      v.Annotation.Rect,
		Title:     fmt.Sprintf("%s: %s", v.Annotation.ID, v.Label),
		Contents:  v.Rationale,
	}
	switch v.Label {
	case models.LabelImplemented:
		o.Color = pdf.Green
	case models.LabelNotImplemented:
		o.Color = pdf.Red
	case models.LabelPartial:
		o.Color = pdf.Yellow
	default:
		o.Color = pdf.Grey
	}
	if v.Evidence != "" {
		o.Contents = fmt.Sprintf("%s\n\nEvidence: %s", v.Rationale, v.Evidence)
	}
	return o
}

func verdictSummary(verdicts []models.Verdict, invocations int) string {
	counts := make(map[models.VerdictLabel]int)
	for _, v := range verdicts {
		counts[v.Label]++
	}
	return fmt.Sprintf("%d annotations: %d implemented, %d partial, %d not implemented, %d unknown (%d judge calls)",
		len(verdicts), counts[models.LabelImplemented], counts[models.LabelPartial],
		counts[models.LabelNotImplemented], counts[models.LabelUnknown], invocations)
}
