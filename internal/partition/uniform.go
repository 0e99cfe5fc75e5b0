package partition

import (
	"fmt"
	"math"

	"github.com/san-kum/reachlab/internal/region"
)

// uniformPart splits a box into the Cartesian product of equal-width
// sub-intervals. Polytopes are partitioned through their enclosing box,
// which keeps the union a cover of the original region.
type uniformPart struct {
	cells []int
}

func (uniformPart) Strategy() Strategy { return Uniform }

func (u uniformPart) Partition(in region.Region) ([]region.Region, error) {
	box, err := in.ToBox()
	if err != nil {
		return nil, err
	}
	if !math.IsInf(box.P, 1) {
		return nil, region.UnsupportedCombinationError{
			What: fmt.Sprintf("uniform partition of a box with L%g norm", box.P),
		}
	}
	if len(u.cells) != box.Dim() {
		return nil, fmt.Errorf("partition has %d cell counts for a %d-dimensional region", len(u.cells), box.Dim())
	}

	total := 1
	for _, c := range u.cells {
		total *= c
	}
	out := make([]region.Region, 0, total)
	idx := make([]int, box.Dim())
	for {
		low := make([]float64, box.Dim())
		high := make([]float64, box.Dim())
		for d := range idx {
			w := box.Width(d) / float64(u.cells[d])
			low[d] = box.Low[d] + float64(idx[d])*w
			high[d] = low[d] + w
			if idx[d] == u.cells[d]-1 {
				// Land exactly on the outer bound despite rounding.
				high[d] = box.High[d]
			}
		}
		cell, err := region.NewBox(low, high)
		if err != nil {
			return nil, err
		}
		out = append(out, cell)

		d := 0
		for d < len(idx) {
			idx[d]++
			if idx[d] < u.cells[d] {
				break
			}
			idx[d] = 0
			d++
		}
		if d == len(idx) {
			return out, nil
		}
	}
}
