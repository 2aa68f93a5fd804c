package pdf

import (
	"fmt"
	"sort"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// PageGeometry returns the page size and the painted images of a page. The
// main image is the one with the largest visible area. A page whose content
// stream could only be read in part fails with ErrPartialContent, since an
// image after the failure point would be missing from the result.
func (d *Document) PageGeometry(page int) (models.PageGeometry, error) {
	width, height, err := d.PageSize(page)
	if err != nil {
		return models.PageGeometry{}, err
	}
	pc, err := d.pageContent(page)
	if err != nil {
		return models.PageGeometry{}, err
	}
	if pc.partial != nil {
		return models.PageGeometry{}, &ExtractionError{Document: d.name, Page: page,
			Err: fmt.Errorf("%w: %v", ErrPartialContent, pc.partial)}
	}

	box := d.boxes[page]
	geo := models.PageGeometry{PageIndex: page, Width: width, Height: height, Rotate: d.rotates[page]}
	for _, im := range pc.images {
		r := box.toPage(im.x0, im.y0, im.x1, im.y1).Clip(box.width(), box.height())
		if r.IsEmpty() {
			continue
		}
		geo.Images = append(geo.Images, r)
	}
	sort.SliceStable(geo.Images, func(i, j int) bool { return geo.Images[i].Area() > geo.Images[j].Area() })

	geo.ImageCount = len(geo.Images)
	if geo.ImageCount > 0 {
		main := geo.Images[0]
		geo.MainImage = &main
	}
	return geo, nil
}
