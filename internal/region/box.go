package region

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const tol = 1e-9

// Region is a convex set over R^n.
type Region interface {
	Dim() int
	Contains(x []float64) bool
	ToBox() (Box, error)
	ToPolytope(facets int) (Polytope, error)
}

// Box is an axis-aligned box {x : Low <= x <= High}, parameterized by an
// Lp norm tag. Only the Linf norm is supported for partitioning and
// sampling; the tag exists so an unsupported norm fails loudly instead of
// being silently treated as Linf.
type Box struct {
	Low  []float64
	High []float64
	P    float64
}

// NewBox builds an Linf box from per-dimension bounds.
func NewBox(low, high []float64) (Box, error) {
	if len(low) != len(high) {
		return Box{}, fmt.Errorf("bound length mismatch: %d vs %d", len(low), len(high))
	}
	if len(low) == 0 {
		return Box{}, fmt.Errorf("box needs at least one dimension")
	}
	for i := range low {
		if low[i] > high[i] {
			return Box{}, fmt.Errorf("low[%d]=%g exceeds high[%d]=%g", i, low[i], i, high[i])
		}
	}
	return Box{Low: clone(low), High: clone(high), P: math.Inf(1)}, nil
}

// MustBox is NewBox for statically-known bounds.
func MustBox(low, high []float64) Box {
	b, err := NewBox(low, high)
	if err != nil {
		panic(err)
	}
	return b
}

func (b Box) Dim() int { return len(b.Low) }

func (b Box) Contains(x []float64) bool {
	if len(x) != b.Dim() {
		return false
	}
	for i := range x {
		if x[i] < b.Low[i]-tol || x[i] > b.High[i]+tol {
			return false
		}
	}
	return true
}

func (b Box) ToBox() (Box, error) {
	return Box{Low: clone(b.Low), High: clone(b.High), P: b.P}, nil
}

// ToPolytope converts the box to half-space form. A facet count of 0 or
// 2n gives the exact representation A = [I; -I], b = [high; -low]. A
// larger count builds a regular facet template enclosing the box, which
// is only defined for two-dimensional boxes.
func (b Box) ToPolytope(facets int) (Polytope, error) {
	n := b.Dim()
	if facets == 0 || facets == 2*n {
		a := mat.NewDense(2*n, n, nil)
		off := make([]float64, 2*n)
		for i := 0; i < n; i++ {
			a.Set(i, i, 1)
			off[i] = b.High[i]
			a.Set(n+i, i, -1)
			off[n+i] = -b.Low[i]
		}
		return Polytope{A: a, B: mat.NewVecDense(2*n, off)}, nil
	}
	if n != 2 {
		return Polytope{}, UnsupportedCombinationError{
			What: fmt.Sprintf("%d-facet template for a %d-dimensional box", facets, n),
		}
	}
	if facets < 3 {
		return Polytope{}, fmt.Errorf("facet count %d below minimum of 3", facets)
	}
	a := mat.NewDense(facets, 2, nil)
	off := make([]float64, facets)
	for i := 0; i < facets; i++ {
		theta := 2 * math.Pi * float64(i) / float64(facets)
		a.Set(i, 0, math.Cos(theta))
		a.Set(i, 1, math.Sin(theta))
		off[i] = b.support([]float64{math.Cos(theta), math.Sin(theta)})
	}
	return Polytope{A: a, B: mat.NewVecDense(facets, off)}, nil
}

// support returns max_{x in box} d.x.
func (b Box) support(d []float64) float64 {
	s := 0.0
	for i, di := range d {
		if di >= 0 {
			s += di * b.High[i]
		} else {
			s += di * b.Low[i]
		}
	}
	return s
}

// Width returns the interval width along dimension i.
func (b Box) Width(i int) float64 { return b.High[i] - b.Low[i] }

// Volume returns the hypervolume of the box.
func (b Box) Volume() float64 {
	v := 1.0
	for i := range b.Low {
		v *= b.High[i] - b.Low[i]
	}
	return v
}

// Center returns the box midpoint.
func (b Box) Center() []float64 {
	c := make([]float64, b.Dim())
	for i := range c {
		c[i] = 0.5 * (b.Low[i] + b.High[i])
	}
	return c
}

// Intersect returns the componentwise intersection of two boxes. Both
// boxes must bound the same underlying set for the result to remain a
// sound bound.
func (b Box) Intersect(other Box) (Box, error) {
	if other.Dim() != b.Dim() {
		return Box{}, fmt.Errorf("dimension mismatch: %d vs %d", b.Dim(), other.Dim())
	}
	low := make([]float64, b.Dim())
	high := make([]float64, b.Dim())
	for i := range low {
		low[i] = math.Max(b.Low[i], other.Low[i])
		high[i] = math.Min(b.High[i], other.High[i])
		if low[i] > high[i] {
			return Box{}, ErrEmptyRegion
		}
	}
	return Box{Low: low, High: high, P: b.P}, nil
}

// EnclosingBox returns the per-dimension min/max hull of the given boxes.
func EnclosingBox(boxes []Box) (Box, error) {
	if len(boxes) == 0 {
		return Box{}, ErrEmptyRegion
	}
	low := clone(boxes[0].Low)
	high := clone(boxes[0].High)
	for _, b := range boxes[1:] {
		if b.Dim() != len(low) {
			return Box{}, fmt.Errorf("dimension mismatch: %d vs %d", b.Dim(), len(low))
		}
		for i := range low {
			low[i] = math.Min(low[i], b.Low[i])
			high[i] = math.Max(high[i], b.High[i])
		}
	}
	return Box{Low: low, High: high, P: boxes[0].P}, nil
}

func clone(v []float64) []float64 {
	c := make([]float64, len(v))
	copy(c, v)
	return c
}
