package geometry

import (
	"math"
	"sort"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// PairImages matches the images of a reference page with those of the final
// page. Pairs are taken greedily by increasing cost, where the cost adds the
// width and height differences to the distance between the centres, so an
// image is paired with the nearest one of similar size. Images left over on
// either side are returned with a nil counterpart. The result follows the
// reference order, then the unpaired final images in their order.
func PairImages(ref, final []models.Rect, eps float64) []models.ImagePair {
	if eps <= 0 {
		eps = DefaultTolerance
	}

	type candidate struct {
		i, j int
		cost float64
	}
	candidates := make([]candidate, 0, len(ref)*len(final))
	for i, r := range ref {
		for j, f := range final {
			candidates = append(candidates, candidate{i: i, j: j, cost: pairCost(r, f)})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].cost != candidates[b].cost {
			return candidates[a].cost < candidates[b].cost
		}
		if candidates[a].i != candidates[b].i {
			return candidates[a].i < candidates[b].i
		}
		return candidates[a].j < candidates[b].j
	})

	match := make([]int, len(ref))
	for i := range match {
		match[i] = -1
	}
	used := make([]bool, len(final))
	for _, c := range candidates {
		if match[c.i] >= 0 || used[c.j] {
			continue
		}
		match[c.i] = c.j
		used[c.j] = true
	}

	out := make([]models.ImagePair, 0, max(len(ref), len(final)))
	for i := range ref {
		r := ref[i]
		if match[i] < 0 {
			out = append(out, models.ImagePair{Reference: &r, Changed: true})
			continue
		}
		f := final[match[i]]
		out = append(out, newPair(r, f, eps))
	}
	for j := range final {
		if !used[j] {
			f := final[j]
			out = append(out, models.ImagePair{Final: &f, Changed: true})
		}
	}
	return out
}

func pairCost(r, f models.Rect) float64 {
	dx := (r.X0 + r.X1 - f.X0 - f.X1) / 2
	dy := (r.Y0 + r.Y1 - f.Y0 - f.Y1) / 2
	return math.Abs(r.Width()-f.Width()) + math.Abs(r.Height()-f.Height()) + math.Hypot(dx, dy)
}

// newPair reports the final size as a percentage of the reference size.
func newPair(r, f models.Rect, eps float64) models.ImagePair {
	p := models.ImagePair{Reference: &r, Final: &f, Changed: !sameBox(r, f, eps)}
	if r.Width() > 0 {
		p.WidthScale = 100 * f.Width() / r.Width()
	}
	if r.Height() > 0 {
		p.HeightScale = 100 * f.Height() / r.Height()
	}
	return p
}

// PairMessage describes a pair the way page discrepancies are described.
func PairMessage(p models.ImagePair) string {
	switch {
	case p.Reference == nil:
		return "Image not in reference page"
	case p.Final == nil:
		return "Image missing from final page"
	}
	r, f := *p.Reference, *p.Final
	return sizeMessage("Image", r.Width(), r.Height(), f.Width(), f.Height())
}
