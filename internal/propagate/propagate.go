package propagate

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/reachlab/internal/dynamics"
	"github.com/san-kum/reachlab/internal/network"
	"github.com/san-kum/reachlab/internal/region"
	"github.com/san-kum/reachlab/internal/sdp"
)

// Method selects a bound-propagation strategy.
type Method string

const (
	IBP     Method = "ibp"
	FastLin Method = "fastlin"
	CROWN   Method = "crown"
	SDP     Method = "sdp"
)

// ParseMethod maps a CLI/config string to a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case IBP, FastLin, CROWN, SDP:
		return Method(s), nil
	}
	return "", fmt.Errorf("unknown propagator %q", s)
}

// SolverError reports a failed SDP relaxation for one cell. The analyzer
// fills in the step and cell indices before surfacing it; a cell whose
// bound failed must abort the whole timestep, since dropping it would
// break the soundness of the merged region.
type SolverError struct {
	Step   int
	Cell   int
	Reason string
	Err    error
}

func (e SolverError) Error() string {
	return fmt.Sprintf("solver failed (step %d, cell %d): %s: %v", e.Step, e.Cell, e.Reason, e.Err)
}

func (e SolverError) Unwrap() error { return e.Err }

// Options configures a propagator instance.
type Options struct {
	// OutputTemplate, when non-nil, switches output regions from boxes
	// to polytopes over this fixed facet-normal matrix.
	OutputTemplate *mat.Dense

	// Solver tunes the SDP relaxation.
	Solver sdp.Options

	// SolverTimeout bounds each per-cell SDP call so a hung relaxation
	// cannot stall the pipeline.
	SolverTimeout time.Duration
}

// Propagator bounds the one-step closed-loop map over an input region.
type Propagator interface {
	Method() Method
	Propagate(ctx context.Context, in region.Region) (region.Region, error)
}

// New builds the requested strategy and rejects pairings the strategy
// cannot honor.
func New(m Method, net *network.Network, sys *dynamics.System, opts Options) (Propagator, error) {
	if err := sys.Validate(); err != nil {
		return nil, err
	}
	if net.InDim() != sys.ObsDim() {
		return nil, fmt.Errorf("network input width %d does not match observation dim %d", net.InDim(), sys.ObsDim())
	}
	if net.OutDim() != sys.ControlDim() {
		return nil, fmt.Errorf("network output width %d does not match control dim %d", net.OutDim(), sys.ControlDim())
	}
	if opts.OutputTemplate != nil {
		_, cols := opts.OutputTemplate.Dims()
		if cols != sys.StateDim() {
			return nil, fmt.Errorf("output facet template has %d columns, want %d", cols, sys.StateDim())
		}
	}
	if opts.SolverTimeout <= 0 {
		opts.SolverTimeout = 30 * time.Second
	}

	base := closedLoop{net: net, sys: sys, opts: opts}
	switch m {
	case IBP:
		return &ibpProp{base}, nil
	case FastLin, CROWN:
		if err := requireReLU(net, string(m)); err != nil {
			return nil, err
		}
		return &linearProp{closedLoop: base, adaptive: m == CROWN}, nil
	case SDP:
		if opts.OutputTemplate != nil {
			return nil, region.UnsupportedCombinationError{What: "SDP propagator with polytope output boundaries"}
		}
		if err := requireReLU(net, "SDP"); err != nil {
			return nil, err
		}
		return &sdpProp{base}, nil
	}
	return nil, fmt.Errorf("unknown propagator %q", m)
}

// requireReLU rejects activations the relaxation-based strategies have
// no sound planes for. IBP handles any monotonic activation.
func requireReLU(net *network.Network, method string) error {
	for i, l := range net.Layers {
		if l.Act != network.ReLU && l.Act != network.Identity {
			return region.UnsupportedCombinationError{
				What: fmt.Sprintf("%s propagator with %s activation (layer %d)", method, l.Act, i),
			}
		}
	}
	if net.Layers[len(net.Layers)-1].Act != network.Identity {
		return region.UnsupportedCombinationError{
			What: method + " propagator requires an identity final layer",
		}
	}
	return nil
}

// closedLoop carries the pieces every strategy shares.
type closedLoop struct {
	net  *network.Network
	sys  *dynamics.System
	opts Options
}

// inputBox reduces the input region to its enclosing box. Partitioning a
// polytope already goes through its enclosing box, so accepting the
// enclosing box here keeps soundness: the box only over-covers.
func (cl closedLoop) inputBox(in region.Region) (region.Box, error) {
	if b, ok := in.(region.Box); ok {
		if !math.IsInf(b.P, 1) {
			return region.Box{}, region.UnsupportedCombinationError{
				What: fmt.Sprintf("box region with L%g norm (only Linf is supported)", b.P),
			}
		}
		if b.Dim() != cl.sys.StateDim() {
			return region.Box{}, fmt.Errorf("region dim %d does not match state dim %d", b.Dim(), cl.sys.StateDim())
		}
		return b, nil
	}
	box, err := in.ToBox()
	if err != nil {
		return region.Box{}, err
	}
	if box.Dim() != cl.sys.StateDim() {
		return region.Box{}, fmt.Errorf("region dim %d does not match state dim %d", box.Dim(), cl.sys.StateDim())
	}
	return box, nil
}

// obsInterval bounds the observation over a state box, inflating by the
// sensor-noise range.
func (cl closedLoop) obsInterval(x region.Box) (lo, hi []float64) {
	lo, hi = affineInterval(cl.sys.C, nil, x.Low, x.High)
	if n := cl.sys.SensorNoise; n != nil {
		for i := range lo {
			lo[i] += n.Low[i]
			hi[i] += n.High[i]
		}
	}
	return lo, hi
}

// clampInterval saturates a control interval at the input limits.
// Clipping is monotone, so clipping the endpoints bounds the clipped set.
func (cl closedLoop) clampInterval(lo, hi []float64) ([]float64, []float64) {
	lim := cl.sys.ULimits
	if lim == nil {
		return lo, hi
	}
	cLo := make([]float64, len(lo))
	cHi := make([]float64, len(hi))
	for i := range lo {
		cLo[i] = math.Min(math.Max(lo[i], lim.Low[i]), lim.High[i])
		cHi[i] = math.Min(math.Max(hi[i], lim.Low[i]), lim.High[i])
	}
	return cLo, cHi
}

// dynInterval bounds x' = At*x + Bt*u + Ct over a state box and control
// interval, inflating by process noise.
func (cl closedLoop) dynInterval(x region.Box, uLo, uHi []float64) (lo, hi []float64) {
	lo, hi = affineInterval(cl.sys.At, cl.sys.Ct, x.Low, x.High)
	bLo, bHi := affineInterval(cl.sys.Bt, nil, uLo, uHi)
	for i := range lo {
		lo[i] += bLo[i]
		hi[i] += bHi[i]
	}
	if n := cl.sys.ProcessNoise; n != nil {
		for i := range lo {
			lo[i] += n.Low[i]
			hi[i] += n.High[i]
		}
	}
	return lo, hi
}

// outputRegion wraps next-state bounds in the configured representation.
func (cl closedLoop) outputRegion(lo, hi []float64) (region.Region, error) {
	box, err := region.NewBox(lo, hi)
	if err != nil {
		return nil, err
	}
	if cl.opts.OutputTemplate == nil {
		return box, nil
	}
	rows, _ := cl.opts.OutputTemplate.Dims()
	off := make([]float64, rows)
	for r := 0; r < rows; r++ {
		off[r] = boxSupport(cl.opts.OutputTemplate, r, lo, hi)
	}
	return region.NewPolytope(cl.opts.OutputTemplate, mat.NewVecDense(rows, off))
}

// affineInterval bounds M*x + c over the box [lo, hi] componentwise by
// worst-case sign selection.
func affineInterval(m *mat.Dense, c []float64, lo, hi []float64) ([]float64, []float64) {
	rows, cols := m.Dims()
	outLo := make([]float64, rows)
	outHi := make([]float64, rows)
	for i := 0; i < rows; i++ {
		l, h := 0.0, 0.0
		if c != nil {
			l, h = c[i], c[i]
		}
		for j := 0; j < cols; j++ {
			w := m.At(i, j)
			if w >= 0 {
				l += w * lo[j]
				h += w * hi[j]
			} else {
				l += w * hi[j]
				h += w * lo[j]
			}
		}
		outLo[i] = l
		outHi[i] = h
	}
	return outLo, outHi
}

// vecSlice copies a gonum vector into a plain slice.
func vecSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// boxSupport returns max of template row r dotted with the box.
func boxSupport(template *mat.Dense, r int, lo, hi []float64) float64 {
	_, cols := template.Dims()
	s := 0.0
	for j := 0; j < cols; j++ {
		w := template.At(r, j)
		if w >= 0 {
			s += w * hi[j]
		} else {
			s += w * lo[j]
		}
	}
	return s
}

// intersectIntervals tightens [aLo,aHi] with an independently sound
// bound [bLo,bHi]. Both must bound the same set.
func intersectIntervals(aLo, aHi, bLo, bHi []float64) ([]float64, []float64) {
	lo := make([]float64, len(aLo))
	hi := make([]float64, len(aHi))
	for i := range aLo {
		lo[i] = math.Max(aLo[i], bLo[i])
		hi[i] = math.Min(aHi[i], bHi[i])
		if lo[i] > hi[i] {
			// Numerical crossing between two sound bounds; collapse to
			// the midpoint rather than report an inverted interval.
			mid := 0.5 * (lo[i] + hi[i])
			lo[i], hi[i] = mid, mid
		}
	}
	return lo, hi
}
