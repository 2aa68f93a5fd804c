// Package diff aligns the word tokens of two pages and reports the inserted
// and deleted runs.
package diff

import (
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// DefaultMaxTokens is the per-page token count above which the engine
// aligns lines instead of words.
const DefaultMaxTokens = 2000

type Options struct {
	MaxTokens       int
	CaseInsensitive bool
	IgnoreQuotes    bool
}

// Result is the alignment of one page pair.
type Result struct {
	Operations []models.DiffOperation
	// LineLevel is set when the page was aligned line by line.
	LineLevel bool
	// Coarse is set when even the line table was too large and the whole
	// changed middle was reported as one delete and one insert.
	Coarse bool
}

type editKind int

const (
	editEqual editKind = iota
	editDelete
	editInsert
)

// edit refers to ref[i] for deletes and final[j] for inserts.
type edit struct {
	kind editKind
	i, j int
}

// Diff aligns ref against final. Operations are in alignment order, with
// the deletes of each changed gap before its inserts.
func Diff(page int, ref, final []models.WordToken, opts Options) Result {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	a := keys(ref, opts)
	b := keys(final, opts)

	// Shared head and tail never need the table.
	p := 0
	for p < len(a) && p < len(b) && a[p] == b[p] {
		p++
	}
	s := 0
	for s < len(a)-p && s < len(b)-p && a[len(a)-1-s] == b[len(b)-1-s] {
		s++
	}
	midA, midB := a[p:len(a)-s], b[p:len(b)-s]

	var res Result
	var edits []edit
	switch {
	case len(midA) == 0 || len(midB) == 0 || (len(midA) <= maxTokens && len(midB) <= maxTokens):
		edits = align(midA, midB)
	default:
		la, lb := lineSpans(ref[p:len(ref)-s]), lineSpans(final[p:len(final)-s])
		if len(la) <= maxTokens && len(lb) <= maxTokens {
			res.LineLevel = true
			edits = expandLines(align(lineKeys(midA, la), lineKeys(midB, lb)), la, lb)
		} else {
			res.Coarse = true
			edits = replaceAll(len(midA), len(midB))
		}
	}

	for k := range edits {
		edits[k].i += p
		edits[k].j += p
	}
	res.Operations = coalesce(page, ref, final, reorderGaps(edits))
	markMoved(res.Operations, opts)
	return res
}

func keys(tokens []models.WordToken, opts Options) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = Normalize(t.Text, opts)
	}
	return out
}

// align walks the suffix-LCS table of a and b. Equal tokens are matched as
// soon as they meet. When dropping either token keeps the same LCS length,
// the lexicographically greater one goes first, so swapping the inputs
// yields the mirrored script.
func align(a, b []string) []edit {
	n, m := len(a), len(b)
	w := m + 1
	lcs := make([]int32, (n+1)*(m+1))
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				lcs[i*w+j] = lcs[(i+1)*w+j+1] + 1
			case lcs[(i+1)*w+j] >= lcs[i*w+j+1]:
				lcs[i*w+j] = lcs[(i+1)*w+j]
			default:
				lcs[i*w+j] = lcs[i*w+j+1]
			}
		}
	}

	edits := make([]edit, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			edits = append(edits, edit{kind: editEqual, i: i, j: j})
			i++
			j++
		case lcs[(i+1)*w+j] > lcs[i*w+j+1]:
			edits = append(edits, edit{kind: editDelete, i: i, j: j})
			i++
		case lcs[(i+1)*w+j] < lcs[i*w+j+1]:
			edits = append(edits, edit{kind: editInsert, i: i, j: j})
			j++
		case a[i] > b[j]:
			edits = append(edits, edit{kind: editDelete, i: i, j: j})
			i++
		default:
			edits = append(edits, edit{kind: editInsert, i: i, j: j})
			j++
		}
	}
	for ; i < n; i++ {
		edits = append(edits, edit{kind: editDelete, i: i, j: j})
	}
	for ; j < m; j++ {
		edits = append(edits, edit{kind: editInsert, i: i, j: j})
	}
	return edits
}

func replaceAll(n, m int) []edit {
	edits := make([]edit, 0, n+m)
	for i := 0; i < n; i++ {
		edits = append(edits, edit{kind: editDelete, i: i})
	}
	for j := 0; j < m; j++ {
		edits = append(edits, edit{kind: editInsert, i: n, j: j})
	}
	return edits
}

// span is the half-open token range of one text line.
type span struct{ start, end int }

func lineSpans(tokens []models.WordToken) []span {
	var spans []span
	for i, t := range tokens {
		if i == 0 || t.Line != tokens[i-1].Line {
			spans = append(spans, span{start: i, end: i + 1})
			continue
		}
		spans[len(spans)-1].end = i + 1
	}
	return spans
}

func lineKeys(tokens []string, spans []span) []string {
	out := make([]string, len(spans))
	for k, sp := range spans {
		out[k] = strings.Join(tokens[sp.start:sp.end], " ")
	}
	return out
}

// expandLines turns a line script into a token script.
func expandLines(lines []edit, la, lb []span) []edit {
	var edits []edit
	for _, e := range lines {
		switch e.kind {
		case editEqual:
			sa, sb := la[e.i], lb[e.j]
			for k := 0; k < sa.end-sa.start; k++ {
				edits = append(edits, edit{kind: editEqual, i: sa.start + k, j: sb.start + k})
			}
		case editDelete:
			for i := la[e.i].start; i < la[e.i].end; i++ {
				edits = append(edits, edit{kind: editDelete, i: i})
			}
		case editInsert:
			for j := lb[e.j].start; j < lb[e.j].end; j++ {
				edits = append(edits, edit{kind: editInsert, j: j})
			}
		}
	}
	return edits
}

// reorderGaps moves the deletes of each run between two matches ahead of
// its inserts.
func reorderGaps(edits []edit) []edit {
	out := make([]edit, 0, len(edits))
	var dels, ins []edit
	flush := func() {
		out = append(out, dels...)
		out = append(out, ins...)
		dels, ins = dels[:0], ins[:0]
	}
	for _, e := range edits {
		switch e.kind {
		case editDelete:
			dels = append(dels, e)
		case editInsert:
			ins = append(ins, e)
		default:
			flush()
		}
	}
	flush()
	return out
}

// coalesce joins consecutive same-kind edits on one line into operations.
func coalesce(page int, ref, final []models.WordToken, edits []edit) []models.DiffOperation {
	var ops []models.DiffOperation
	var cur *models.DiffOperation
	curLine := 0
	for _, e := range edits {
		var kind models.DiffKind
		var tok models.WordToken
		var idx int
		switch e.kind {
		case editDelete:
			kind, tok, idx = models.DiffDelete, ref[e.i], e.i
		case editInsert:
			kind, tok, idx = models.DiffInsert, final[e.j], e.j
		default:
			cur = nil
			continue
		}
		if cur != nil && cur.Kind == kind && cur.End == idx && curLine == tok.Line {
			cur.End++
			cur.Tokens = append(cur.Tokens, tok.Text)
			cur.Region = cur.Region.Union(tok.Rect)
			continue
		}
		ops = append(ops, models.DiffOperation{
			Kind:      kind,
			PageIndex: page,
			Start:     idx,
			End:       idx + 1,
			Region:    tok.Rect,
			Tokens:    []string{tok.Text},
		})
		cur = &ops[len(ops)-1]
		curLine = tok.Line
	}
	for k := range ops {
		ops[k].Text = strings.Join(ops[k].Tokens, " ")
	}
	return ops
}

// markMoved flags operations whose every token also appears, by key, in an
// operation of the opposite kind on the page.
func markMoved(ops []models.DiffOperation, opts Options) {
	seen := map[models.DiffKind]map[string]bool{
		models.DiffInsert: {},
		models.DiffDelete: {},
	}
	for _, op := range ops {
		for _, t := range op.Tokens {
			seen[op.Kind][Normalize(t, opts)] = true
		}
	}
	for k, op := range ops {
		other := seen[models.DiffInsert]
		if op.Kind == models.DiffInsert {
			other = seen[models.DiffDelete]
		}
		moved := len(op.Tokens) > 0
		for _, t := range op.Tokens {
			if !other[Normalize(t, opts)] {
				moved = false
				break
			}
		}
		ops[k].Moved = moved
	}
}

// Apply replays ops on the reference token texts and returns the final
// token texts.
func Apply(ref []string, ops []models.DiffOperation) ([]string, error) {
	deleted := make([]bool, len(ref))
	inserted := make(map[int]string)
	for _, op := range ops {
		if op.Start < 0 || op.End < op.Start || op.Len() != len(op.Tokens) {
			return nil, fmt.Errorf("invalid %s operation [%d,%d)", op.Kind, op.Start, op.End)
		}
		switch op.Kind {
		case models.DiffDelete:
			if op.End > len(ref) {
				return nil, fmt.Errorf("delete [%d,%d) outside reference of %d tokens", op.Start, op.End, len(ref))
			}
			for i := op.Start; i < op.End; i++ {
				deleted[i] = true
			}
		case models.DiffInsert:
			for k, t := range op.Tokens {
				inserted[op.Start+k] = t
			}
		}
	}

	var kept []string
	for i, t := range ref {
		if !deleted[i] {
			kept = append(kept, t)
		}
	}

	total := len(kept) + len(inserted)
	out := make([]string, 0, total)
	next := 0
	for pos := 0; pos < total; pos++ {
		if t, ok := inserted[pos]; ok {
			out = append(out, t)
			continue
		}
		if next >= len(kept) {
			return nil, fmt.Errorf("insert positions do not fit a sequence of %d tokens", total)
		}
		out = append(out, kept[next])
		next++
	}
	return out, nil
}

// Texts returns the token texts.
func Texts(tokens []models.WordToken) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}
