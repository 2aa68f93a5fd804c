package pdf

import (
	"fmt"
	"io"
	"strings"

	rscpdf "rsc.io/pdf"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// commentSubtypes are the annotation subtypes that carry review comments.
var commentSubtypes = map[string]bool{
	"Text":     true,
	"FreeText": true,
	"Popup":    true,
}

// AnnotationReader yields comment annotations in document order: page
// ascending, then on-page /Annots order. It is one-shot; once Next has
// returned io.EOF or an error it keeps returning it.
type AnnotationReader struct {
	doc     *Document
	page    int
	pending []models.Annotation
	err     error
}

// Annotations returns a fresh reader over the document's annotations.
func (d *Document) Annotations() *AnnotationReader {
	return &AnnotationReader{doc: d}
}

// AllAnnotations returns every comment annotation in document order.
func (d *Document) AllAnnotations() ([]models.Annotation, error) {
	return CollectAnnotations(d.Annotations())
}

// Next returns the next annotation, or io.EOF when none remain.
func (r *AnnotationReader) Next() (models.Annotation, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return models.Annotation{}, r.err
		}
		if r.page >= r.doc.PageCount() {
			r.err = io.EOF
			return models.Annotation{}, r.err
		}
		annots, err := r.doc.pageAnnotations(r.page)
		if err != nil {
			r.err = err
			return models.Annotation{}, err
		}
		r.pending = annots
		r.page++
	}
	next := r.pending[0]
	r.pending = r.pending[1:]
	return next, nil
}

// CollectAnnotations drains r.
func CollectAnnotations(r *AnnotationReader) ([]models.Annotation, error) {
	var out []models.Annotation
	for {
		a, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
}

func (d *Document) pageAnnotations(page int) (out []models.Annotation, err error) {
	defer recoverExtraction(d.name, page, &err)

	box := d.boxes[page]
	annots := d.reader.Page(page + 1).V.Key("Annots")
	for k := 0; k < annots.Len(); k++ {
		a := annots.Index(k)
		subtype := a.Key("Subtype").Name()
		if !commentSubtypes[subtype] {
			continue
		}
		// A popup only displays its parent's note; report it on its own
		// only when the parent is not itself a reported comment.
		if subtype == "Popup" {
			parent := a.Key("Parent")
			if commentSubtypes[parent.Key("Subtype").Name()] && annotationBody(parent) != "" {
				continue
			}
		}
		body := annotationBody(a)
		if body == "" {
			continue
		}

		var rect models.Rect
		if ra := a.Key("Rect"); ra.Kind() == rscpdf.Array && ra.Len() == 4 {
			rect = box.toPage(ra.Index(0).Float64(), ra.Index(1).Float64(), ra.Index(2).Float64(), ra.Index(3).Float64())
		}

		out = append(out, models.Annotation{
			ID:            fmt.Sprintf("p%d-%d", page+1, len(out)+1),
			PageIndex:     page,
			Rect:          rect,
			Author:        strings.TrimSpace(a.Key("T").Text()),
			Text:          body,
			Subtype:       subtype,
			CreationOrder: k,
			Modified:      a.Key("M").Text(),
		})
	}
	return out, nil
}

// annotationBody is /Contents, falling back to the linked popup's (or, for
// a popup, its parent's) contents.
func annotationBody(a rscpdf.Value) string {
	if body := strings.TrimSpace(a.Key("Contents").Text()); body != "" {
		return body
	}
	if a.Key("Subtype").Name() == "Popup" {
		return strings.TrimSpace(a.Key("Parent").Key("Contents").Text())
	}
	return strings.TrimSpace(a.Key("Popup").Key("Contents").Text())
}
