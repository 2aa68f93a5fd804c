package pdf

import (
	"math"
	"sort"
	"strings"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

const (
	// baselineTolerance is the fraction of the font size within which two
	// glyphs share a line.
	baselineTolerance = 0.5
	// wordGapFactor is the fraction of the font size above which a gap
	// between glyphs splits a word.
	wordGapFactor = 0.25
	// descentFactor extends token boxes below the baseline.
	descentFactor = 0.2
)

// PositionedGlyph is a glyph in the top-left page frame.
type PositionedGlyph struct {
	Text     string
	X        float64
	Baseline float64
	Width    float64
	Size     float64
	Space    bool
}

// Words returns the page's word tokens in reading order.
func (d *Document) Words(page int) ([]models.WordToken, error) {
	pc, err := d.pageContent(page)
	if err != nil {
		return nil, err
	}
	box := d.boxes[page]
	glyphs := make([]PositionedGlyph, 0, len(pc.glyphs))
	for _, g := range pc.glyphs {
		glyphs = append(glyphs, PositionedGlyph{
			Text:     g.text,
			X:        g.x - box.x0,
			Baseline: box.y1 - g.y,
			Width:    g.w,
			Size:     g.size,
			Space:    g.space,
		})
	}
	return GroupWords(page, glyphs), nil
}

// PageText returns the text of the words intersecting clip, one line per
// text line. A nil clip selects the whole page.
func (d *Document) PageText(page int, clip *models.Rect) (string, error) {
	words, err := d.Words(page)
	if err != nil {
		return "", err
	}
	return JoinWords(words, clip), nil
}

// JoinWords renders tokens as text, keeping line breaks.
func JoinWords(words []models.WordToken, clip *models.Rect) string {
	var b strings.Builder
	line := -1
	for _, w := range words {
		if clip != nil && !clip.Intersects(w.Rect) {
			continue
		}
		if line >= 0 {
			if w.Line != line {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(w.Text)
		line = w.Line
	}
	return b.String()
}

type textLine struct {
	baseline float64
	size     float64
	glyphs   []PositionedGlyph
}

// GroupWords builds word tokens from positioned glyphs. Lines run top to
// bottom and words left to right; Index is the position in the result.
func GroupWords(page int, glyphs []PositionedGlyph) []models.WordToken {
	if len(glyphs) == 0 {
		return nil
	}
	sorted := make([]PositionedGlyph, len(glyphs))
	copy(sorted, glyphs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Baseline != sorted[j].Baseline {
			return sorted[i].Baseline < sorted[j].Baseline
		}
		return sorted[i].X < sorted[j].X
	})

	var lines []*textLine
	var cur *textLine
	for _, g := range sorted {
		if cur != nil {
			tol := baselineTolerance * math.Max(math.Max(cur.size, g.Size), 1)
			if math.Abs(g.Baseline-cur.baseline) <= tol {
				cur.glyphs = append(cur.glyphs, g)
				cur.size = math.Max(cur.size, g.Size)
				continue
			}
		}
		cur = &textLine{baseline: g.Baseline, size: g.Size, glyphs: []PositionedGlyph{g}}
		lines = append(lines, cur)
	}

	var tokens []models.WordToken
	for lineIdx, l := range lines {
		sort.SliceStable(l.glyphs, func(i, j int) bool { return l.glyphs[i].X < l.glyphs[j].X })

		var word []PositionedGlyph
		flush := func() {
			if tok, ok := makeToken(page, lineIdx, word); ok {
				tok.Index = len(tokens)
				tokens = append(tokens, tok)
			}
			word = word[:0]
		}
		for _, g := range l.glyphs {
			if g.Space || strings.TrimSpace(g.Text) == "" {
				flush()
				continue
			}
			if len(word) > 0 {
				last := word[len(word)-1]
				if g.X-(last.X+last.Width) > wordGapFactor*math.Max(g.Size, 1) {
					flush()
				}
			}
			word = append(word, g)
		}
		flush()
	}
	return tokens
}

func makeToken(page, line int, word []PositionedGlyph) (models.WordToken, bool) {
	if len(word) == 0 {
		return models.WordToken{}, false
	}
	var b strings.Builder
	x0, x1 := math.Inf(1), math.Inf(-1)
	baseline, size := 0.0, 0.0
	for _, g := range word {
		b.WriteString(g.Text)
		x0 = math.Min(x0, g.X)
		x1 = math.Max(x1, g.X+g.Width)
		baseline = math.Max(baseline, g.Baseline)
		size = math.Max(size, g.Size)
	}
	text := strings.Join(strings.Fields(b.String()), "")
	if text == "" {
		return models.WordToken{}, false
	}
	return models.WordToken{
		PageIndex: page,
		Text:      text,
		Rect:      models.NewRect(x0, baseline-size, x1, baseline+descentFactor*size),
		Line:      line,
		FontSize:  size,
	}, true
}
