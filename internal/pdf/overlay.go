package pdf

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/unicode"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// Color is an RGB stroke colour with components in [0, 1].
type Color struct {
	R, G, B float64
}

var (
	Red    = Color{R: 1}
	Green  = Color{G: 0.6}
	Yellow = Color{R: 1, G: 0.8}
	Grey   = Color{R: 0.5, G: 0.5, B: 0.5}
	Blue   = Color{G: 0.4, B: 1}
	Orange = Color{R: 1, G: 0.5}
)

const defaultBorderWidth = 2

// Overlay is a rectangle burned into a page as a Square annotation.
type Overlay struct {
	PageIndex   int
	Rect        models.Rect
	Color       Color
	Title       string
	Contents    string
	BorderWidth float64
}

// Annotate returns a copy of the document with the overlays added. The
// document itself is not modified.
func (d *Document) Annotate(overlays []Overlay) ([]byte, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(d.data), pdfcpuConfig())
	if err != nil {
		return nil, &ExtractionError{Document: d.name, Page: -1, Err: err}
	}

	for i, o := range overlays {
		if err := d.checkPage(o.PageIndex); err != nil {
			return nil, err
		}
		pageDict, _, _, err := ctx.PageDict(o.PageIndex+1, false)
		if err != nil {
			return nil, &ExtractionError{Document: d.name, Page: o.PageIndex, Err: err}
		}

		annot, err := squareAnnotation(i, d.boxes[o.PageIndex], o)
		if err != nil {
			return nil, err
		}
		ref, err := ctx.IndRefForNewObject(annot)
		if err != nil {
			return nil, fmt.Errorf("failed to add overlay %d: %w", i, err)
		}

		annots, err := ctx.DereferenceArray(pageDict["Annots"])
		if err != nil {
			return nil, &ExtractionError{Document: d.name, Page: o.PageIndex, Err: err}
		}
		pageDict["Annots"] = append(annots, *ref)
	}

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("failed to write annotated PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func squareAnnotation(i int, box mediaBox, o Overlay) (types.Dict, error) {
	x0, y0, x1, y1 := box.toUser(o.Rect)
	width := o.BorderWidth
	if width <= 0 {
		width = defaultBorderWidth
	}
	title, err := textString(o.Title)
	if err != nil {
		return nil, err
	}
	contents, err := textString(o.Contents)
	if err != nil {
		return nil, err
	}

	return types.Dict(map[string]types.Object{
		"Type":     types.Name("Annot"),
		"Subtype":  types.Name("Square"),
		"Rect":     types.Array{types.Float(x0), types.Float(y0), types.Float(x1), types.Float(y1)},
		"C":        types.Array{types.Float(o.Color.R), types.Float(o.Color.G), types.Float(o.Color.B)},
		"BS":       types.Dict(map[string]types.Object{"W": types.Float(width), "S": types.Name("S")}),
		"F":        types.Integer(4),
		"NM":       types.StringLiteral(fmt.Sprintf("batiment-%d", i+1)),
		"T":        title,
		"Contents": contents,
	}), nil
}

// textString encodes s as a UTF-16BE hex string with BOM, which every
// reader accepts for non-ASCII text.
func textString(s string) (types.HexLiteral, error) {
	enc, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().String(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode annotation text: %w", err)
	}
	return types.HexLiteral(hex.EncodeToString([]byte(enc))), nil
}
