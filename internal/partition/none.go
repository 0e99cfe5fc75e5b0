package partition

import "github.com/san-kum/reachlab/internal/region"

// nonePart passes the region through as a single cell.
type nonePart struct{}

func (nonePart) Strategy() Strategy { return None }

func (nonePart) Partition(in region.Region) ([]region.Region, error) {
	return []region.Region{in}, nil
}
