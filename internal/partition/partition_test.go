package partition

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/reachlab/internal/region"
)

func TestParseStrategy(t *testing.T) {
	if _, err := ParseStrategy("uniform"); err != nil {
		t.Fatalf("uniform: %v", err)
	}
	if _, err := ParseStrategy("adaptive"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestNonePassesThrough(t *testing.T) {
	p, err := New(None, nil)
	if err != nil {
		t.Fatal(err)
	}
	in := region.MustBox([]float64{0, 0}, []float64{1, 1})
	cells, err := p.Partition(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 1 {
		t.Fatalf("got %d cells, want 1", len(cells))
	}
	box, _ := cells[0].ToBox()
	if box.Low[0] != 0 || box.High[1] != 1 {
		t.Fatalf("cell does not match input: %+v", box)
	}
}

func TestUniformGrid(t *testing.T) {
	p, err := New(Uniform, []int{4, 2})
	if err != nil {
		t.Fatal(err)
	}
	in := region.MustBox([]float64{2.5, -0.25}, []float64{3.0, 0.25})
	cells, err := p.Partition(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 8 {
		t.Fatalf("got %d cells, want 8", len(cells))
	}

	// Cells tile the input: volumes sum to the whole and every cell
	// stays inside it.
	vol := 0.0
	for _, c := range cells {
		b, err := c.ToBox()
		if err != nil {
			t.Fatal(err)
		}
		vol += b.Volume()
		for d := 0; d < 2; d++ {
			if b.Low[d] < in.Low[d]-1e-12 || b.High[d] > in.High[d]+1e-12 {
				t.Fatalf("cell %+v escapes input box", b)
			}
			want := in.Width(d) / float64([]int{4, 2}[d])
			if math.Abs(b.Width(d)-want) > 1e-12 {
				t.Fatalf("cell width %g along dim %d, want %g", b.Width(d), d, want)
			}
		}
	}
	if math.Abs(vol-in.Volume()) > 1e-12 {
		t.Fatalf("cell volumes sum to %g, want %g", vol, in.Volume())
	}
}

func TestUniformCoversEdges(t *testing.T) {
	p, _ := New(Uniform, []int{3, 3})
	in := region.MustBox([]float64{-1, -1}, []float64{1, 1})
	cells, err := p.Partition(in)
	if err != nil {
		t.Fatal(err)
	}
	corner := []float64{1, 1}
	found := false
	for _, c := range cells {
		if c.Contains(corner) {
			found = true
		}
	}
	if !found {
		t.Fatal("no cell contains the outer corner")
	}
}

func TestUniformRejectsBadCounts(t *testing.T) {
	if _, err := New(Uniform, []int{4, 0}); err == nil {
		t.Fatal("expected error for zero cell count")
	}
	if _, err := New(Uniform, nil); err == nil {
		t.Fatal("expected error for missing cell counts")
	}
	p, _ := New(Uniform, []int{4})
	in := region.MustBox([]float64{0, 0}, []float64{1, 1})
	if _, err := p.Partition(in); err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
}

func TestUniformPartitionsPolytopeViaEnclosingBox(t *testing.T) {
	in := region.MustBox([]float64{0, 0}, []float64{2, 2})
	poly, err := in.ToPolytope(0)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := New(Uniform, []int{2, 2})
	cells, err := p.Partition(poly)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 4 {
		t.Fatalf("got %d cells, want 4", len(cells))
	}
}

func TestMergeBoxes(t *testing.T) {
	a := region.MustBox([]float64{0, 0}, []float64{1, 1})
	b := region.MustBox([]float64{0.5, -1}, []float64{2, 0.5})
	merged, err := Merge([]region.Region{a, b})
	if err != nil {
		t.Fatal(err)
	}
	box, err := merged.ToBox()
	if err != nil {
		t.Fatal(err)
	}
	wantLow := []float64{0, -1}
	wantHigh := []float64{2, 1}
	for i := range wantLow {
		if box.Low[i] != wantLow[i] || box.High[i] != wantHigh[i] {
			t.Fatalf("merged box %+v, want low %v high %v", box, wantLow, wantHigh)
		}
	}
}

func TestMergePolytopes(t *testing.T) {
	template := mat.NewDense(4, 2, []float64{1, 0, 0, 1, -1, 0, 0, -1})
	a, err := region.NewPolytope(template, mat.NewVecDense(4, []float64{1, 1, 0, 0}))
	if err != nil {
		t.Fatal(err)
	}
	b, err := region.NewPolytope(template, mat.NewVecDense(4, []float64{2, 0.5, 1, 0.25}))
	if err != nil {
		t.Fatal(err)
	}
	merged, err := Merge([]region.Region{a, b})
	if err != nil {
		t.Fatal(err)
	}
	poly, ok := merged.(region.Polytope)
	if !ok {
		t.Fatalf("merged region is %T, want polytope", merged)
	}
	want := []float64{2, 1, 1, 0.25}
	for r, w := range want {
		if poly.B.AtVec(r) != w {
			t.Fatalf("offset[%d] = %g, want %g", r, poly.B.AtVec(r), w)
		}
	}
}

func TestMergeRejectsMixedTypes(t *testing.T) {
	a := region.MustBox([]float64{0}, []float64{1})
	poly, _ := region.MustBox([]float64{0, 0}, []float64{1, 1}).ToPolytope(0)
	if _, err := Merge([]region.Region{a, poly}); err == nil {
		t.Fatal("expected error for mixed region types")
	}
	if _, err := Merge(nil); err == nil {
		t.Fatal("expected error for empty cell list")
	}
}
