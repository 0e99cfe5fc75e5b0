// Package partition splits an input region into cells the analyzer
// bounds independently. Refining the partition tightens the merged
// reachable set at the cost of more propagator calls per timestep.
package partition

import (
	"fmt"

	"github.com/san-kum/reachlab/internal/region"
)

// Strategy selects a partitioning scheme.
type Strategy string

const (
	None    Strategy = "none"
	Uniform Strategy = "uniform"
)

// ParseStrategy maps a CLI/config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case None, Uniform:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown partitioner %q", s)
}

// Partitioner splits a region into cells whose union covers it.
type Partitioner interface {
	Strategy() Strategy
	Partition(in region.Region) ([]region.Region, error)
}

// New builds the requested partitioner. Cells is ignored by None; for
// Uniform it gives the per-dimension cell counts, all positive.
func New(s Strategy, cells []int) (Partitioner, error) {
	switch s {
	case None:
		return nonePart{}, nil
	case Uniform:
		if len(cells) == 0 {
			return nil, fmt.Errorf("uniform partitioner needs per-dimension cell counts")
		}
		for i, c := range cells {
			if c < 1 {
				return nil, fmt.Errorf("cell count %d along dimension %d must be positive", c, i)
			}
		}
		return uniformPart{cells: cells}, nil
	}
	return nil, fmt.Errorf("unknown partitioner %q", s)
}
