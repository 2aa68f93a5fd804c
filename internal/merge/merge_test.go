package merge

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/Epistemic-Technology/batiment-compare/models"
)

// op builds an operation whose text is one character per 6pt of width on a
// 12pt line.
func op(kind models.DiffKind, start int, x0, y0, width float64) models.DiffOperation {
	n := int(width / 6)
	text := make([]byte, n)
	for i := range text {
		text[i] = 'x'
	}
	return models.DiffOperation{
		Kind:   kind,
		Start:  start,
		End:    start + 1,
		Text:   string(text),
		Region: models.NewRect(x0, y0, x0+width, y0+12),
	}
}

func TestMerge_SameKindNeighbours(t *testing.T) {
	ops := []models.DiffOperation{
		op(models.DiffInsert, 0, 72, 100, 30),
		op(models.DiffInsert, 1, 110, 100, 30), // 8pt gap, within 3 chars
		op(models.DiffInsert, 2, 72, 114, 30),  // next line
		op(models.DiffInsert, 3, 400, 114, 30), // far right
		op(models.DiffInsert, 4, 72, 300, 30),  // far below
	}

	merged := Merge(ops, Options{})
	if len(merged) != 3 {
		t.Fatalf("Expected 3 annotations, got %d: %+v", len(merged), merged)
	}
	if merged[0].OperationCount != 3 {
		t.Errorf("first group has %d operations, want 3", merged[0].OperationCount)
	}
	want := models.NewRect(72, 100, 140, 126)
	if merged[0].Region != want {
		t.Errorf("Region = %+v, want %+v", merged[0].Region, want)
	}
}

func TestMerge_NeverMixesKinds(t *testing.T) {
	ops := []models.DiffOperation{
		op(models.DiffDelete, 2, 72, 100, 30),
		op(models.DiffInsert, 2, 72, 100, 30),
		op(models.DiffDelete, 3, 104, 100, 30),
		op(models.DiffInsert, 3, 104, 100, 30),
	}

	merged := Merge(ops, Options{VerticalFactor: 100, HorizontalFactor: 100})
	if len(merged) != 2 {
		t.Fatalf("Expected one annotation per kind, got %+v", merged)
	}
	if merged[0].Kind == merged[1].Kind {
		t.Errorf("Both annotations have kind %s", merged[0].Kind)
	}
	for _, m := range merged {
		if m.OperationCount != 2 {
			t.Errorf("%s annotation has %d operations, want 2", m.Kind, m.OperationCount)
		}
	}
}

func TestMerge_PagesStaySeparate(t *testing.T) {
	a := op(models.DiffInsert, 0, 72, 100, 30)
	b := op(models.DiffInsert, 0, 72, 100, 30)
	b.PageIndex = 1

	merged := Merge([]models.DiffOperation{b, a}, Options{})
	if len(merged) != 2 || merged[0].PageIndex != 0 || merged[1].PageIndex != 1 {
		t.Errorf("unexpected result: %+v", merged)
	}
}

func TestMerge_DeterministicAndContaining(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	var ops []models.DiffOperation
	for i := 0; i < 60; i++ {
		kind := models.DiffInsert
		if r.Intn(2) == 0 {
			kind = models.DiffDelete
		}
		o := op(kind, i, float64(r.Intn(50))*10, float64(r.Intn(40))*14, float64(6+r.Intn(5)*6))
		o.Moved = r.Intn(4) == 0
		ops = append(ops, o)
	}

	first := Merge(ops, Options{})
	shuffled := append([]models.DiffOperation(nil), ops...)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	second := Merge(shuffled, Options{})
	if !reflect.DeepEqual(first, Merge(ops, Options{})) {
		t.Error("Merge is not stable across runs")
	}
	if len(first) != len(second) {
		t.Errorf("input order changed the grouping: %d vs %d annotations", len(first), len(second))
	}

	total := 0
	for _, m := range first {
		total += m.OperationCount
	}
	if total != len(ops) {
		t.Errorf("annotations cover %d operations, want %d", total, len(ops))
	}

	// Every operation lies inside an annotation of its kind.
	for _, o := range ops {
		found := false
		for _, m := range first {
			if m.Kind == o.Kind && m.Region.Contains(o.Region) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("operation %+v not contained in any %s annotation", o.Region, o.Kind)
		}
	}
}

func TestMerge_Empty(t *testing.T) {
	if got := Merge(nil, Options{}); len(got) != 0 {
		t.Errorf("Expected no annotations, got %+v", got)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []float64
		want float64
	}{
		{nil, 0},
		{[]float64{3}, 3},
		{[]float64{5, 1, 3}, 3},
		{[]float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		if got := median(tt.in); got != tt.want {
			t.Errorf("median(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
