package region

import "fmt"

// UnboundedRegionError reports a polytope with no finite enclosing box.
type UnboundedRegionError struct {
	Dim    int
	Reason string
}

func (e UnboundedRegionError) Error() string {
	return fmt.Sprintf("unbounded region (dim %d): %s", e.Dim, e.Reason)
}

// UnsupportedCombinationError reports an algorithm/representation pairing
// that is not implemented, e.g. a polytope with a non-Linf norm or a facet
// template in a dimension that has none.
type UnsupportedCombinationError struct {
	What string
}

func (e UnsupportedCombinationError) Error() string {
	return "unsupported combination: " + e.What
}

// ErrEmptyRegion is returned when an operation requires at least one
// feasible point and the region has none.
var ErrEmptyRegion = fmt.Errorf("region is empty")
