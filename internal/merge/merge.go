// Package merge clusters nearby diff operations into the annotations drawn
// on the final PDF.
package merge

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

const (
	DefaultVerticalFactor   = 1.2
	DefaultHorizontalFactor = 3.0
)

// Options are the proximity window, as multiples of the page's median line
// height and median character width.
type Options struct {
	VerticalFactor   float64
	HorizontalFactor float64
}

func (o Options) withDefaults() Options {
	if o.VerticalFactor <= 0 {
		o.VerticalFactor = DefaultVerticalFactor
	}
	if o.HorizontalFactor <= 0 {
		o.HorizontalFactor = DefaultHorizontalFactor
	}
	return o
}

// Merge groups operations of the same page and kind whose regions fall
// within the proximity window. Inserts and deletes are never combined.
func Merge(ops []models.DiffOperation, opts Options) []models.MergedAnnotation {
	opts = opts.withDefaults()

	byPage := make(map[int][]models.DiffOperation)
	for _, op := range ops {
		byPage[op.PageIndex] = append(byPage[op.PageIndex], op)
	}

	var out []models.MergedAnnotation
	for _, pageOps := range byPage {
		lineHeight, charWidth := pageMetrics(pageOps)
		maxV := opts.VerticalFactor * lineHeight
		maxH := opts.HorizontalFactor * charWidth

		byKind := make(map[models.DiffKind][]models.DiffOperation)
		for _, op := range pageOps {
			byKind[op.Kind] = append(byKind[op.Kind], op)
		}
		for _, group := range byKind {
			out = append(out, sweep(group, maxV, maxH)...)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.PageIndex != b.PageIndex:
			return a.PageIndex < b.PageIndex
		case a.Region.Y0 != b.Region.Y0:
			return a.Region.Y0 < b.Region.Y0
		case a.Region.X0 != b.Region.X0:
			return a.Region.X0 < b.Region.X0
		case a.Kind != b.Kind:
			return a.Kind < b.Kind
		default:
			return a.FirstToken < b.FirstToken
		}
	})
	return out
}

// sweep clusters same-kind operations in reading order.
func sweep(ops []models.DiffOperation, maxV, maxH float64) []models.MergedAnnotation {
	sorted := make([]models.DiffOperation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Region, sorted[j].Region
		switch {
		case a.Y0 != b.Y0:
			return a.Y0 < b.Y0
		case a.X0 != b.X0:
			return a.X0 < b.X0
		default:
			return sorted[i].Start < sorted[j].Start
		}
	})

	var out []models.MergedAnnotation
	var cur *models.MergedAnnotation
	var texts []string
	closeGroup := func() {
		if cur != nil {
			cur.Text = strings.Join(texts, " ")
			out = append(out, *cur)
		}
		cur, texts = nil, nil
	}

	for _, op := range sorted {
		if cur != nil && near(cur.Region, op.Region, maxV, maxH) {
			cur.Region = cur.Region.Union(op.Region)
			cur.OperationCount++
			cur.TokenCount += op.Len()
			if op.Moved {
				cur.MovedCount++
			}
			cur.FirstToken = min(cur.FirstToken, op.Start)
			texts = append(texts, op.Text)
			continue
		}
		closeGroup()
		cur = &models.MergedAnnotation{
			Kind:           op.Kind,
			PageIndex:      op.PageIndex,
			Region:         op.Region,
			OperationCount: 1,
			TokenCount:     op.Len(),
			FirstToken:     op.Start,
		}
		if op.Moved {
			cur.MovedCount = 1
		}
		texts = []string{op.Text}
	}
	closeGroup()
	return out
}

func near(group, r models.Rect, maxV, maxH float64) bool {
	v := math.Max(0, math.Max(r.Y0-group.Y1, group.Y0-r.Y1))
	h := math.Max(0, math.Max(r.X0-group.X1, group.X0-r.X1))
	return v <= maxV && h <= maxH
}

// pageMetrics estimates the median line height and character width from
// the operations' regions.
func pageMetrics(ops []models.DiffOperation) (float64, float64) {
	var heights, widths []float64
	for _, op := range ops {
		if h := op.Region.Height(); h > 0 {
			heights = append(heights, h)
		}
		chars := utf8.RuneCountInString(strings.ReplaceAll(op.Text, " ", ""))
		if w := op.Region.Width(); w > 0 && chars > 0 {
			widths = append(widths, w/float64(chars))
		}
	}
	return median(heights), median(widths)
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sort.Float64s(xs)
	mid := len(xs) / 2
	if len(xs)%2 == 1 {
		return xs[mid]
	}
	return (xs[mid-1] + xs[mid]) / 2
}
