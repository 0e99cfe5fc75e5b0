package region

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Polytope is the half-space intersection {x : Ax <= b}. It may be empty
// and, if the normals do not close around every direction, unbounded.
type Polytope struct {
	A *mat.Dense
	B *mat.VecDense
}

// NewPolytope validates the constraint system. Every row of A must be
// non-zero.
func NewPolytope(a *mat.Dense, b *mat.VecDense) (Polytope, error) {
	m, n := a.Dims()
	if b.Len() != m {
		return Polytope{}, fmt.Errorf("offset length %d does not match %d rows", b.Len(), m)
	}
	if n == 0 {
		return Polytope{}, fmt.Errorf("polytope needs at least one dimension")
	}
	for i := 0; i < m; i++ {
		norm := 0.0
		for j := 0; j < n; j++ {
			norm += a.At(i, j) * a.At(i, j)
		}
		if norm < tol*tol {
			return Polytope{}, fmt.Errorf("row %d of A is zero", i)
		}
	}
	var ac mat.Dense
	ac.CloneFrom(a)
	var bc mat.VecDense
	bc.CloneFromVec(b)
	return Polytope{A: &ac, B: &bc}, nil
}

func (p Polytope) Dim() int {
	_, n := p.A.Dims()
	return n
}

// Facets returns the number of half-space constraints.
func (p Polytope) Facets() int {
	m, _ := p.A.Dims()
	return m
}

func (p Polytope) Contains(x []float64) bool {
	m, n := p.A.Dims()
	if len(x) != n {
		return false
	}
	for i := 0; i < m; i++ {
		s := 0.0
		for j := 0; j < n; j++ {
			s += p.A.At(i, j) * x[j]
		}
		if s > p.B.AtVec(i)+tol {
			return false
		}
	}
	return true
}

// ToBox computes the tightest enclosing box as the per-dimension min/max
// over the polytope's vertices. It fails with UnboundedRegionError when a
// coordinate direction lies in the recession cone or when no vertex
// exists, and with ErrEmptyRegion when the constraint system is
// infeasible.
func (p Polytope) ToBox() (Box, error) {
	m, n := p.A.Dims()
	for j := 0; j < n; j++ {
		if !p.closedAlong(j, +1) {
			return Box{}, UnboundedRegionError{Dim: n, Reason: fmt.Sprintf("no facet bounds +x%d", j)}
		}
		if !p.closedAlong(j, -1) {
			return Box{}, UnboundedRegionError{Dim: n, Reason: fmt.Sprintf("no facet bounds -x%d", j)}
		}
	}
	verts := p.Vertices()
	if len(verts) == 0 {
		if m < n {
			return Box{}, UnboundedRegionError{Dim: n, Reason: "fewer facets than dimensions"}
		}
		return Box{}, ErrEmptyRegion
	}
	low := make([]float64, n)
	high := make([]float64, n)
	for j := 0; j < n; j++ {
		low[j] = math.Inf(1)
		high[j] = math.Inf(-1)
	}
	for _, v := range verts {
		for j := 0; j < n; j++ {
			low[j] = math.Min(low[j], v[j])
			high[j] = math.Max(high[j], v[j])
		}
	}
	return Box{Low: low, High: high, P: math.Inf(1)}, nil
}

// closedAlong reports whether some facet normal has a positive component
// along sign*e_j, i.e. whether the polytope can bound that direction.
func (p Polytope) closedAlong(j, sign int) bool {
	m, _ := p.A.Dims()
	for i := 0; i < m; i++ {
		if float64(sign)*p.A.At(i, j) > tol {
			return true
		}
	}
	return false
}

// Vertices enumerates the feasible intersection points of every
// n-subset of facets. Quadratic-ish in facet count but exact; the
// benchmark systems this tool targets have at most a handful of facets.
func (p Polytope) Vertices() [][]float64 {
	m, n := p.A.Dims()
	var verts [][]float64
	rows := make([]int, n)
	var recurse func(start, k int)
	recurse = func(start, k int) {
		if k == n {
			if v, ok := p.solveSubset(rows); ok {
				verts = append(verts, v)
			}
			return
		}
		for i := start; i < m; i++ {
			rows[k] = i
			recurse(i+1, k+1)
		}
	}
	recurse(0, 0)
	return dedupe(verts)
}

func (p Polytope) solveSubset(rows []int) ([]float64, bool) {
	n := len(rows)
	sub := mat.NewDense(n, n, nil)
	rhs := mat.NewVecDense(n, nil)
	for k, r := range rows {
		for j := 0; j < n; j++ {
			sub.Set(k, j, p.A.At(r, j))
		}
		rhs.SetVec(k, p.B.AtVec(r))
	}
	var x mat.VecDense
	if err := x.SolveVec(sub, rhs); err != nil {
		return nil, false
	}
	v := make([]float64, n)
	for j := 0; j < n; j++ {
		v[j] = x.AtVec(j)
		if math.IsNaN(v[j]) || math.IsInf(v[j], 0) {
			return nil, false
		}
	}
	if !p.Contains(v) {
		return nil, false
	}
	return v, true
}

// ToPolytope re-expresses the polytope on a facet template. With facets
// equal to the current count (or 0) it returns a copy; any other count
// goes through the enclosing box first.
func (p Polytope) ToPolytope(facets int) (Polytope, error) {
	if facets == 0 || facets == p.Facets() {
		return NewPolytope(p.A, p.B)
	}
	box, err := p.ToBox()
	if err != nil {
		return Polytope{}, err
	}
	return box.ToPolytope(facets)
}

// WithOffsets returns a polytope sharing this polytope's facet normals
// with fresh offsets. Used when merging per-cell outputs over a fixed
// facet template.
func (p Polytope) WithOffsets(off []float64) (Polytope, error) {
	if len(off) != p.Facets() {
		return Polytope{}, fmt.Errorf("offset length %d does not match %d facets", len(off), p.Facets())
	}
	return NewPolytope(p.A, mat.NewVecDense(len(off), clone(off)))
}

func dedupe(verts [][]float64) [][]float64 {
	out := verts[:0]
	for _, v := range verts {
		dup := false
		for _, u := range out {
			same := true
			for j := range v {
				if math.Abs(v[j]-u[j]) > 1e-7 {
					same = false
					break
				}
			}
			if same {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
