package pdf

import (
	"fmt"
	"math"
	"strings"

	rscpdf "rsc.io/pdf"
)

// maxFormDepth bounds Form XObject nesting.
const maxFormDepth = 8

// glyph is one shown character in PDF user space (y up).
type glyph struct {
	text  string
	x, y  float64
	w     float64
	size  float64
	space bool
}

// placement is the user-space bounding box of a painted image.
type placement struct {
	x0, y0, x1, y1 float64
}

type pageContent struct {
	glyphs []glyph
	images []placement
	// partial is set when a content stream stopped parsing midway.
	partial error
}

type matrix [3][3]float64

var ident = matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

func (x matrix) mul(y matrix) matrix {
	var z matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				z[i][j] += x[i][k] * y[k][j]
			}
		}
	}
	return z
}

func (x matrix) apply(px, py float64) (float64, float64) {
	return px*x[0][0] + py*x[1][0] + x[2][0], px*x[0][1] + py*x[1][1] + x[2][1]
}

func translate(tx, ty float64) matrix {
	return matrix{{1, 0, 0}, {0, 1, 0}, {tx, ty, 1}}
}

// rawEncoding passes bytes through when a font has no usable encoding.
type rawEncoding struct{}

func (rawEncoding) Decode(raw string) string { return raw }

type gstate struct {
	Tc, Tw, Th, Tl, Tfs, Trise float64
	font                       rscpdf.Font
	enc                        rscpdf.TextEncoding
	wide                       bool
	defaultWidth               float64
	Tm, Tlm, CTM               matrix
}

// interp runs content-stream operators for one page or form.
type interp struct {
	out    *pageContent
	res    rscpdf.Value
	g      gstate
	gstack []gstate
	depth  int
}

func scanPage(document string, page int, p rscpdf.Page) (pc *pageContent, err error) {
	defer recoverExtraction(document, page, &err)

	pc = &pageContent{}
	it := &interp{
		out: pc,
		res: p.Resources(),
		g:   gstate{Th: 1, CTM: ident, Tm: ident, Tlm: ident, enc: rawEncoding{}},
	}

	contents := p.V.Key("Contents")
	switch contents.Kind() {
	case rscpdf.Stream:
		it.exec(contents)
	case rscpdf.Array:
		// Multiple streams form one logical stream, so the state carries over.
		for i := 0; i < contents.Len(); i++ {
			it.exec(contents.Index(i))
		}
	}
	return pc, nil
}

// exec interprets one stream. A parse failure keeps what was read so far
// and marks the page partial.
func (it *interp) exec(strm rscpdf.Value) {
	if strm.Kind() != rscpdf.Stream {
		return
	}
	defer func() {
		if r := recover(); r != nil && it.out.partial == nil {
			it.out.partial = fmt.Errorf("%v", r)
		}
	}()
	rscpdf.Interpret(strm, it.op)
}

func num(args []rscpdf.Value, i int) float64 {
	if i < len(args) {
		return args[i].Float64()
	}
	return 0
}

func (it *interp) op(stk *rscpdf.Stack, op string) {
	n := stk.Len()
	args := make([]rscpdf.Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = stk.Pop()
	}
	g := &it.g

	switch op {
	case "q":
		it.gstack = append(it.gstack, *g)
	case "Q":
		if len(it.gstack) > 0 {
			*g = it.gstack[len(it.gstack)-1]
			it.gstack = it.gstack[:len(it.gstack)-1]
		}
	case "cm":
		if len(args) != 6 {
			return
		}
		m := matrix{{num(args, 0), num(args, 1), 0}, {num(args, 2), num(args, 3), 0}, {num(args, 4), num(args, 5), 1}}
		g.CTM = m.mul(g.CTM)
	case "BT":
		g.Tm = ident
		g.Tlm = ident
	case "T*":
		g.Tlm = translate(0, -g.Tl).mul(g.Tlm)
		g.Tm = g.Tlm
	case "Tc":
		g.Tc = num(args, 0)
	case "TD":
		g.Tl = -num(args, 1)
		g.Tlm = translate(num(args, 0), num(args, 1)).mul(g.Tlm)
		g.Tm = g.Tlm
	case "Td":
		g.Tlm = translate(num(args, 0), num(args, 1)).mul(g.Tlm)
		g.Tm = g.Tlm
	case "Tf":
		if len(args) != 2 {
			return
		}
		g.font = rscpdf.Font{V: it.res.Key("Font").Key(args[0].Name())}
		g.enc = g.font.Encoder()
		if g.enc == nil {
			g.enc = rawEncoding{}
		}
		g.wide = g.font.V.Key("Subtype").Name() == "Type0"
		g.defaultWidth = 0
		if g.wide {
			g.defaultWidth = g.font.V.Key("DescendantFonts").Index(0).Key("DW").Float64()
		}
		g.Tfs = num(args, 1)
	case "\"":
		if len(args) != 3 {
			return
		}
		g.Tw = num(args, 0)
		g.Tc = num(args, 1)
		g.Tlm = translate(0, -g.Tl).mul(g.Tlm)
		g.Tm = g.Tlm
		it.show(args[2].RawString())
	case "'":
		if len(args) != 1 {
			return
		}
		g.Tlm = translate(0, -g.Tl).mul(g.Tlm)
		g.Tm = g.Tlm
		it.show(args[0].RawString())
	case "Tj":
		if len(args) != 1 {
			return
		}
		it.show(args[0].RawString())
	case "TJ":
		if len(args) != 1 {
			return
		}
		v := args[0]
		for i := 0; i < v.Len(); i++ {
			x := v.Index(i)
			if x.Kind() == rscpdf.String {
				it.show(x.RawString())
				continue
			}
			tx := -x.Float64() / 1000 * g.Tfs * g.Th
			g.Tm = translate(tx, 0).mul(g.Tm)
		}
	case "TL":
		g.Tl = num(args, 0)
	case "Tm":
		if len(args) != 6 {
			return
		}
		g.Tm = matrix{{num(args, 0), num(args, 1), 0}, {num(args, 2), num(args, 3), 0}, {num(args, 4), num(args, 5), 1}}
		g.Tlm = g.Tm
	case "Ts":
		g.Trise = num(args, 0)
	case "Tw":
		g.Tw = num(args, 0)
	case "Tz":
		g.Th = num(args, 0) / 100
	case "BI":
		// Inline image: painted into the unit square like an XObject.
		it.paintImage()
	case "Do":
		if len(args) != 1 {
			return
		}
		it.doXObject(args[0].Name())
	}
}

// show places one glyph per character code. Simple fonts use one-byte
// codes; Type0 fonts are read as two-byte codes.
func (it *interp) show(s string) {
	g := &it.g
	step := 1
	if g.wide {
		step = 2
	}
	for i := 0; i < len(s); i += step {
		code := s[i:min(i+step, len(s))]
		text := g.enc.Decode(code)

		var w0 float64
		if g.wide {
			w0 = g.defaultWidth
		} else {
			w0 = g.font.Width(int(code[0]))
		}
		// Fonts without a Widths array: assume an average glyph.
		if w0 == 0 {
			w0 = 500
		}

		trm := matrix{{g.Tfs * g.Th, 0, 0}, {0, g.Tfs, 0}, {0, g.Trise, 1}}.mul(g.Tm).mul(g.CTM)
		if text != "" {
			it.out.glyphs = append(it.out.glyphs, glyph{
				text:  text,
				x:     trm[2][0],
				y:     trm[2][1],
				w:     math.Abs(w0 / 1000 * trm[0][0]),
				size:  math.Hypot(trm[1][0], trm[1][1]),
				space: strings.TrimSpace(text) == "",
			})
		}

		tx := w0/1000*g.Tfs + g.Tc
		if !g.wide && code[0] == ' ' {
			tx += g.Tw
		}
		tx *= g.Th
		g.Tm = translate(tx, 0).mul(g.Tm)
	}
}

func (it *interp) doXObject(name string) {
	xobj := it.res.Key("XObject").Key(name)
	switch xobj.Key("Subtype").Name() {
	case "Image":
		it.paintImage()
	case "Form":
		if it.depth >= maxFormDepth {
			return
		}
		m := ident
		if fm := xobj.Key("Matrix"); fm.Kind() == rscpdf.Array && fm.Len() == 6 {
			m = matrix{
				{fm.Index(0).Float64(), fm.Index(1).Float64(), 0},
				{fm.Index(2).Float64(), fm.Index(3).Float64(), 0},
				{fm.Index(4).Float64(), fm.Index(5).Float64(), 1},
			}
		}
		res := xobj.Key("Resources")
		if res.IsNull() {
			res = it.res
		}
		child := &interp{out: it.out, res: res, g: it.g, depth: it.depth + 1}
		child.g.CTM = m.mul(it.g.CTM)
		child.exec(xobj)
	}
}

// paintImage records the unit square mapped through the CTM.
func (it *interp) paintImage() {
	ctm := it.g.CTM
	p := placement{x0: math.Inf(1), y0: math.Inf(1), x1: math.Inf(-1), y1: math.Inf(-1)}
	for _, c := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := ctm.apply(c[0], c[1])
		p.x0 = math.Min(p.x0, x)
		p.y0 = math.Min(p.y0, y)
		p.x1 = math.Max(p.x1, x)
		p.y1 = math.Max(p.y1, y)
	}
	it.out.images = append(it.out.images, p)
}
