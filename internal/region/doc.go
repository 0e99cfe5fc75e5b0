// Package region provides convex region representations over the state space.
//
// Two encodings implement the [Region] interface:
//
//   - [Box]: axis-aligned box with per-dimension lower/upper bounds
//   - [Polytope]: half-space intersection {x : Ax <= b}
//
// Conversions between the two are explicit and total: a box converts
// losslessly to a 2n-facet polytope, while a polytope converts to its
// tightest enclosing box (a lossy, enclosing conversion). Converting an
// unbounded polytope fails with [UnboundedRegionError].
//
// Regions are immutable value objects: every operation returns a new
// region and never mutates the receiver.
package region
