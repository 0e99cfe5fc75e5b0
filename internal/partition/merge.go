package partition

import (
	"fmt"
	"math"

	"github.com/san-kum/reachlab/internal/region"
)

// Merge hulls per-cell output regions back into one region. Boxes merge
// to their enclosing box; polytopes over a shared facet template merge
// by taking the largest offset per facet, which is exactly the convex
// hull in that template.
func Merge(cells []region.Region) (region.Region, error) {
	if len(cells) == 0 {
		return nil, region.ErrEmptyRegion
	}
	switch first := cells[0].(type) {
	case region.Box:
		boxes := make([]region.Box, len(cells))
		for i, c := range cells {
			b, ok := c.(region.Box)
			if !ok {
				return nil, fmt.Errorf("cannot merge mixed region types (cell %d)", i)
			}
			boxes[i] = b
		}
		return region.EnclosingBox(boxes)
	case region.Polytope:
		off := make([]float64, first.Facets())
		for i := range off {
			off[i] = math.Inf(-1)
		}
		for i, c := range cells {
			p, ok := c.(region.Polytope)
			if !ok {
				return nil, fmt.Errorf("cannot merge mixed region types (cell %d)", i)
			}
			if p.Facets() != first.Facets() {
				return nil, fmt.Errorf("cell %d has %d facets, want %d", i, p.Facets(), first.Facets())
			}
			for r := range off {
				off[r] = math.Max(off[r], p.B.AtVec(r))
			}
		}
		return first.WithOffsets(off)
	}
	return nil, fmt.Errorf("cannot merge regions of type %T", cells[0])
}
