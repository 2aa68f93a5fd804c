// Package geometry compares page and main-image geometry between a
// reference and a final drawing set.
package geometry

import (
	"fmt"
	"math"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// DefaultTolerance is the absolute tolerance in points.
const DefaultTolerance = 1.0

// Compare classifies one page pair. Page size is checked before the image.
// A nil side means its geometry could not be extracted.
func Compare(ref, final *models.PageGeometry, eps float64) models.Discrepancy {
	if eps <= 0 {
		eps = DefaultTolerance
	}

	d := models.Discrepancy{Reference: ref, Final: final}
	switch {
	case ref != nil:
		d.PageIndex = ref.PageIndex
	case final != nil:
		d.PageIndex = final.PageIndex
	}
	if ref == nil || final == nil {
		d.Class = models.ClassUnknown
		d.Message = "geometry unavailable"
		return d
	}

	d.WidthDelta = final.Width - ref.Width
	d.HeightDelta = final.Height - ref.Height

	if math.Abs(d.WidthDelta) > eps || math.Abs(d.HeightDelta) > eps {
		d.Class = models.ClassPageSizeMismatch
		d.Region = &models.Rect{X1: final.Width, Y1: final.Height}
		d.Message = sizeMessage("Page", ref.Width, ref.Height, final.Width, final.Height)
		return d
	}

	switch {
	case ref.MainImage == nil && final.MainImage == nil:
		d.Class = models.ClassMatch
	case ref.MainImage == nil:
		d.Class = models.ClassMissingImage
		d.Region = final.MainImage
		d.Message = "Main image missing from reference page"
	case final.MainImage == nil:
		d.Class = models.ClassMissingImage
		d.Region = &models.Rect{X1: final.Width, Y1: final.Height}
		d.Message = "Main image missing from final page"
	case !sameBox(*ref.MainImage, *final.MainImage, eps):
		d.Class = models.ClassImageSizeMismatch
		d.Region = final.MainImage
		r, f := *ref.MainImage, *final.MainImage
		d.Message = sizeMessage("Image", r.Width(), r.Height(), f.Width(), f.Height())
		if r.X0 != f.X0 || r.Y0 != f.Y0 {
			d.Message += fmt.Sprintf(", origin (%.1f, %.1f) → (%.1f, %.1f)", r.X0, r.Y0, f.X0, f.Y0)
		}
	default:
		d.Class = models.ClassMatch
	}
	return d
}

func sameBox(a, b models.Rect, eps float64) bool {
	return math.Abs(a.X0-b.X0) <= eps &&
		math.Abs(a.Y0-b.Y0) <= eps &&
		math.Abs(a.X1-b.X1) <= eps &&
		math.Abs(a.Y1-b.Y1) <= eps
}

// sizeMessage reports W/H before and after with the scale percentage.
func sizeMessage(what string, w0, h0, w1, h1 float64) string {
	msg := fmt.Sprintf("%s W: %.1f → %.1f pt, H: %.1f → %.1f pt", what, w0, w1, h0, h1)
	if w0 > 0 && h0 > 0 {
		msg += fmt.Sprintf(" (scale %.1f%% × %.1f%%)", 100*w1/w0, 100*h1/h0)
	}
	return msg
}

// ComparePages compares page i of ref with page i of final for every page
// both documents have. A nil entry is a page whose geometry could not be
// extracted; it is classified unknown. Pages present on one side only are
// reported as warnings. When both sides are known the images of the pair are
// matched as well.
func ComparePages(ref, final []*models.PageGeometry, eps float64) ([]models.Discrepancy, []string) {
	n := min(len(ref), len(final))
	out := make([]models.Discrepancy, 0, n)
	for i := 0; i < n; i++ {
		d := Compare(ref[i], final[i], eps)
		if ref[i] == nil && final[i] == nil {
			d.PageIndex = i
		}
		if ref[i] != nil && final[i] != nil {
			d.Images = PairImages(ref[i].Images, final[i].Images, eps)
		}
		out = append(out, d)
	}
	return out, UnpairedWarnings(len(ref), len(final))
}

// UnpairedWarnings describes pages that have no counterpart.
func UnpairedWarnings(refPages, finalPages int) []string {
	switch {
	case refPages > finalPages:
		return []string{fmt.Sprintf("reference has %d pages, final has %d: pages %d-%d not compared", refPages, finalPages, finalPages+1, refPages)}
	case finalPages > refPages:
		return []string{fmt.Sprintf("final has %d pages, reference has %d: pages %d-%d not compared", finalPages, refPages, refPages+1, finalPages)}
	}
	return nil
}

// Summary counts discrepancies per class.
func Summary(ds []models.Discrepancy) map[models.DiscrepancyClass]int {
	out := make(map[models.DiscrepancyClass]int)
	for _, d := range ds {
		out[d.Class]++
	}
	return out
}
