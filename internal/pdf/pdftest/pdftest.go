// Package pdftest builds small, well-formed PDFs for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// Text is a run of text drawn with Helvetica. Baseline is measured from the
// top of the page.
type Text struct {
	X        float64
	Baseline float64
	Size     float64
	Value    string
}

// Note is a comment annotation. Rect uses the top-left page frame.
type Note struct {
	Subtype string
	Rect    models.Rect
	Author  string
	Body    string
}

// Page describes one page. Image, when set, is painted into that box
// (top-left frame). Rotate sets /Rotate without changing the MediaBox, the
// way landscape sheets are often stored. Raw is written verbatim at the
// start of the content stream.
type Page struct {
	Width  float64
	Height float64
	Rotate int
	Image  *models.Rect
	Texts  []Text
	Notes  []Note
	Raw    string
}

// Letter returns an empty 612x792 page.
func Letter() Page {
	return Page{Width: 612, Height: 792}
}

type builder struct {
	buf     bytes.Buffer
	offsets []int
}

func (b *builder) object(body string) int {
	b.offsets = append(b.offsets, b.buf.Len())
	num := len(b.offsets)
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	return num
}

func stream(dict string, data string) string {
	return fmt.Sprintf("<< %s /Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// Build renders pages into a PDF document.
func Build(pages ...Page) []byte {
	b := &builder{}
	b.buf.WriteString("%PDF-1.4\n")

	// Objects 1 and 2 are the catalog and page tree; 3 and 4 the shared
	// font and image.
	b.object("<< /Type /Catalog /Pages 2 0 R >>")
	pagesAt := len(b.offsets)
	b.offsets = append(b.offsets, 0)
	b.object("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	b.object(stream("/Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", "\x80"))

	var kids []string
	for _, p := range pages {
		var content strings.Builder
		content.WriteString(p.Raw)
		if p.Image != nil {
			r := p.Image.Normalize()
			fmt.Fprintf(&content, "q %g 0 0 %g %g %g cm /Im1 Do Q\n", r.Width(), r.Height(), r.X0, p.Height-r.Y1)
		}
		for _, t := range p.Texts {
			fmt.Fprintf(&content, "BT /F1 %g Tf %g %g Td (%s) Tj ET\n", t.Size, t.X, p.Height-t.Baseline, escape(t.Value))
		}
		contentNum := b.object(stream("", content.String()))

		var annots []string
		for _, n := range p.Notes {
			r := n.Rect.Normalize()
			subtype := n.Subtype
			if subtype == "" {
				subtype = "Text"
			}
			annots = append(annots, fmt.Sprintf(
				"<< /Type /Annot /Subtype /%s /Rect [%g %g %g %g] /T (%s) /Contents (%s) >>",
				subtype, r.X0, p.Height-r.Y1, r.X1, p.Height-r.Y0, escape(n.Author), escape(n.Body)))
		}

		rotate := ""
		if p.Rotate != 0 {
			rotate = fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		pageNum := b.object(fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g]%s /Resources << /Font << /F1 3 0 R >> /XObject << /Im1 4 0 R >> >> /Contents %d 0 R /Annots [%s] >>",
			p.Width, p.Height, rotate, contentNum, strings.Join(annots, " ")))
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))
	}

	b.offsets[pagesAt] = b.buf.Len()
	fmt.Fprintf(&b.buf, "2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), len(kids))

	xref := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n", len(b.offsets)+1)
	b.buf.WriteString("0000000000 65535 f \n")
	for _, off := range b.offsets {
		fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(b.offsets)+1, xref)
	return b.buf.Bytes()
}
