package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	rscpdf "rsc.io/pdf"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// Document is a parsed PDF. pdfcpu validates it and owns page extraction
// and overlays; rsc.io/pdf reads content streams and annotations.
//
// Every coordinate the document hands out (page size, words, images,
// annotations, overlays) is in the unrotated MediaBox frame with a top-left
// origin. /Rotate is reported separately and never applied.
type Document struct {
	name    string
	data    []byte
	reader  *rscpdf.Reader
	boxes   []mediaBox
	rotates []int

	// ctxMu guards ctx, which pdfcpu mutates while extracting pages.
	ctxMu sync.Mutex
	ctx   *model.Context

	mu      sync.Mutex
	content map[int]*pageContent
}

// mediaBox is a page's MediaBox in PDF user space.
type mediaBox struct {
	x0, y0, x1, y1 float64
}

func (b mediaBox) width() float64  { return b.x1 - b.x0 }
func (b mediaBox) height() float64 { return b.y1 - b.y0 }

// toPage converts a user-space box to the top-left page frame.
func (b mediaBox) toPage(x0, y0, x1, y1 float64) models.Rect {
	return models.NewRect(x0-b.x0, b.y1-y1, x1-b.x0, b.y1-y0)
}

// toUser converts a top-left page rect back to user space.
func (b mediaBox) toUser(r models.Rect) (x0, y0, x1, y1 float64) {
	r = r.Normalize()
	return b.x0 + r.X0, b.y1 - r.Y1, b.x0 + r.X1, b.y1 - r.Y0
}

func pdfcpuConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	// Plotter and CAD exports are rarely strictly conformant.
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Open parses data as a PDF. name identifies the document in errors
// ("reference", "final").
func Open(name string, data []byte) (doc *Document, err error) {
	defer recoverExtraction(name, -1, &err)

	if len(data) == 0 {
		return nil, &ExtractionError{Document: name, Page: -1, Err: errors.New("empty document")}
	}

	reader, err := rscpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Document: name, Page: -1, Err: err}
	}

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), pdfcpuConfig())
	if err != nil {
		return nil, &ExtractionError{Document: name, Page: -1, Err: err}
	}

	if ctx.PageCount != reader.NumPage() {
		return nil, &ExtractionError{Document: name, Page: -1,
			Err: fmt.Errorf("page tree mismatch: %d pages vs %d", ctx.PageCount, reader.NumPage())}
	}

	boxes := make([]mediaBox, ctx.PageCount)
	rotates := make([]int, ctx.PageCount)
	for i := range boxes {
		page := reader.Page(i + 1).V
		boxes[i] = inheritedMediaBox(page)
		rotates[i] = inheritedRotate(page)
	}

	return &Document{
		name:    name,
		data:    data,
		reader:  reader,
		boxes:   boxes,
		rotates: rotates,
		ctx:     ctx,
		content: make(map[int]*pageContent),
	}, nil
}

// inheritedRotate returns the page's /Rotate, normalized to 0, 90, 180 or
// 270.
func inheritedRotate(page rscpdf.Value) int {
	v := page
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if r := v.Key("Rotate"); r.Kind() == rscpdf.Integer || r.Kind() == rscpdf.Real {
			return ((int(r.Float64())%360)+360)%360 / 90 * 90
		}
		v = v.Key("Parent")
	}
	return 0
}

// inheritedMediaBox walks up the page tree until a MediaBox is found.
// US Letter is assumed when none is present.
func inheritedMediaBox(page rscpdf.Value) mediaBox {
	v := page
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		mb := v.Key("MediaBox")
		if mb.Kind() == rscpdf.Array && mb.Len() == 4 {
			x0, y0 := mb.Index(0).Float64(), mb.Index(1).Float64()
			x1, y1 := mb.Index(2).Float64(), mb.Index(3).Float64()
			return mediaBox{
				x0: math.Min(x0, x1), y0: math.Min(y0, y1),
				x1: math.Max(x0, x1), y1: math.Max(y0, y1),
			}
		}
		v = v.Key("Parent")
	}
	return mediaBox{x1: 612, y1: 792}
}

func (d *Document) PageCount() int { return len(d.boxes) }

func (d *Document) checkPage(page int) error {
	if page < 0 || page >= len(d.boxes) {
		return &ExtractionError{Document: d.name, Page: page,
			Err: fmt.Errorf("page out of range (document has %d pages)", len(d.boxes))}
	}
	return nil
}

// PageSize returns the MediaBox width and height in points, the frame all
// page coordinates use.
func (d *Document) PageSize(page int) (float64, float64, error) {
	if err := d.checkPage(page); err != nil {
		return 0, 0, err
	}
	return d.boxes[page].width(), d.boxes[page].height(), nil
}

// PageRotation returns the page's /Rotate in degrees.
func (d *Document) PageRotation(page int) (int, error) {
	if err := d.checkPage(page); err != nil {
		return 0, err
	}
	return d.rotates[page], nil
}

// ExtractPage returns page as a standalone single-page PDF.
func (d *Document) ExtractPage(page int) ([]byte, error) {
	if err := d.checkPage(page); err != nil {
		return nil, err
	}
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()

	r, err := api.ExtractPage(d.ctx, page+1)
	if err != nil {
		return nil, &ExtractionError{Document: d.name, Page: page, Err: err}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ExtractionError{Document: d.name, Page: page, Err: err}
	}
	return data, nil
}

// Warnings lists pages whose content stream could only be read in part.
func (d *Document) Warnings() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var warnings []string
	for page := 0; page < len(d.boxes); page++ {
		if pc, ok := d.content[page]; ok && pc.partial != nil {
			warnings = append(warnings, fmt.Sprintf("%s page %d: content read partially: %v", d.name, page+1, pc.partial))
		}
	}
	return warnings
}

// pageContent interprets the page once and caches the result.
func (d *Document) pageContent(page int) (*pageContent, error) {
	if err := d.checkPage(page); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if pc, ok := d.content[page]; ok {
		return pc, nil
	}
	pc, err := scanPage(d.name, page, d.reader.Page(page+1))
	if err != nil {
		return nil, err
	}
	d.content[page] = pc
	return pc, nil
}
