package propagate

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/reachlab/internal/network"
	"github.com/san-kum/reachlab/internal/region"
	"github.com/san-kum/reachlab/internal/sdp"
)

// sdpProp bounds the controller output with a semidefinite relaxation
// of the exact ReLU verification problem (one moment matrix over the
// observation and all hidden activations, with complementarity
// equalities per ReLU), then composes the dynamics step with interval
// arithmetic. Strictly the tightest and most expensive strategy.
type sdpProp struct {
	closedLoop
}

func (p *sdpProp) Method() Method { return SDP }

func (p *sdpProp) Propagate(ctx context.Context, in region.Region) (region.Region, error) {
	if _, ok := in.(region.Polytope); ok {
		return nil, region.UnsupportedCombinationError{What: "SDP propagator with polytope input boundaries"}
	}
	box, err := p.inputBox(in)
	if err != nil {
		return nil, err
	}
	yLo, yHi := p.obsInterval(box)

	uLo, uHi, err := p.controlBounds(ctx, yLo, yHi)
	if err != nil {
		return nil, err
	}

	// Tighten with the cheaper relaxations; all three bound the same
	// control set, so intersecting never loses soundness and keeps the
	// looser-to-tighter ordering monotone.
	iLo, iHi := netInterval(p.net, yLo, yHi)
	uLo, uHi = intersectIntervals(uLo, uHi, iLo, iHi)
	cb := netLinearBounds(p.net, yLo, yHi, true)
	cLo := concretizeLower(cb.Wl, cb.bl, yLo, yHi)
	cHi := concretizeUpper(cb.Wu, cb.bu, yLo, yHi)
	uLo, uHi = intersectIntervals(uLo, uHi, cLo, cHi)

	uLo, uHi = p.clampInterval(uLo, uHi)
	lo, hi := p.dynInterval(box, uLo, uHi)

	// The interval composition of the dynamics step discards the
	// state/control coupling; intersecting with the CROWN state bounds
	// recovers it and keeps SDP at least as tight as CROWN.
	lin := &linearProp{closedLoop: p.closedLoop, adaptive: true}
	linLo, linHi, _ := lin.stateBounds(box)
	lo, hi = intersectIntervals(lo, hi, linLo, linHi)

	return p.outputRegion(lo, hi)
}

// controlBounds solves one SDP per control coordinate per direction.
func (p *sdpProp) controlBounds(ctx context.Context, yLo, yHi []float64) ([]float64, []float64, error) {
	rel := newRelaxation(p.net, yLo, yHi)
	m := p.sys.ControlDim()
	lo := make([]float64, m)
	hi := make([]float64, m)
	for t := 0; t < m; t++ {
		max, err := p.solveDirection(ctx, rel, t, true)
		if err != nil {
			return nil, nil, err
		}
		min, err := p.solveDirection(ctx, rel, t, false)
		if err != nil {
			return nil, nil, err
		}
		lo[t], hi[t] = min, max
	}
	return lo, hi, nil
}

func (p *sdpProp) solveDirection(ctx context.Context, rel *relaxation, coord int, maximize bool) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.SolverTimeout)
	defer cancel()

	prob := rel.problem(coord, maximize)
	res, err := sdp.Solve(callCtx, prob, p.opts.Solver)
	if err != nil {
		dir := "min"
		if maximize {
			dir = "max"
		}
		return 0, SolverError{
			Step:   -1,
			Cell:   -1,
			Reason: fmt.Sprintf("%s of control coordinate %d", dir, coord),
			Err:    err,
		}
	}
	// The solver minimizes; a maximization was passed in negated.
	if maximize {
		return -res.Objective + rel.outB[coord], nil
	}
	return res.Objective + rel.outB[coord], nil
}

// relaxation holds the shared constraint system of the moment-matrix
// SDP; only the objective changes between directions.
type relaxation struct {
	dim int // moment matrix size: 1 + inputs + hidden neurons

	eqA []*mat.SymDense
	eqB []float64
	inG []*mat.SymDense
	inH []float64

	outW    *mat.Dense // final identity layer weights over last hidden vars
	outB    []float64
	lastIdx []int // variable indices of the final hidden layer
}

// newRelaxation builds the constraint system once per input box:
// moment normalization, input-box quadratic bounds, per-ReLU sign and
// complementarity constraints, and interval hull bounds on every hidden
// activation for boundedness of the feasible set.
func newRelaxation(net *network.Network, yLo, yHi []float64) *relaxation {
	hidden := net.Layers[:len(net.Layers)-1]
	final := net.Layers[len(net.Layers)-1]

	nVars := len(yLo)
	for _, l := range hidden {
		nVars += l.OutDim()
	}
	dim := 1 + nVars
	r := &relaxation{dim: dim, outW: final.W, outB: vecSlice(final.B)}

	// P[0][0] = 1
	norm := mat.NewSymDense(dim, nil)
	norm.SetSym(0, 0, 1)
	r.eqA = append(r.eqA, norm)
	r.eqB = append(r.eqB, 1)

	// Input box: V_ii <= (l+u)*v_i - l*u.
	inVars := make([]int, len(yLo))
	for i := range yLo {
		inVars[i] = 1 + i
		r.addRangeBound(inVars[i], yLo[i], yHi[i])
	}

	_, _, postLo, postHi := intervalLayers(net, yLo, yHi)

	prevVars := inVars
	next := 1 + len(yLo)
	for k, l := range hidden {
		layerVars := make([]int, l.OutDim())
		for t := range layerVars {
			layerVars[t] = next
			next++
		}
		for t := 0; t < l.OutDim(); t++ {
			va := layerVars[t]
			w := rowSlice(l.W, t)
			b := l.B.AtVec(t)
			switch l.Act {
			case network.ReLU:
				r.addReLU(va, prevVars, w, b)
			default: // identity hidden layer: a = W*prev + b exactly
				r.addLinear(va, prevVars, w, b)
			}
			r.addRangeBound(va, postLo[k][t], postHi[k][t])
		}
		prevVars = layerVars
	}
	r.lastIdx = prevVars
	return r
}

// addRangeBound encodes v in [l, u] as the quadratic cut
// V_vv - (l+u)*v <= -l*u.
func (r *relaxation) addRangeBound(v int, l, u float64) {
	g := mat.NewSymDense(r.dim, nil)
	g.SetSym(v, v, 1)
	g.SetSym(0, v, -(l+u)/2)
	r.inG = append(r.inG, g)
	r.inH = append(r.inH, -l*u)
}

// addReLU encodes a = relu(w.prev + b): nonnegativity, the linear lower
// bound a >= z, and the complementarity equality a*(a - z) = 0.
func (r *relaxation) addReLU(va int, prev []int, w []float64, b float64) {
	// a >= 0
	g := mat.NewSymDense(r.dim, nil)
	g.SetSym(0, va, -0.5)
	r.inG = append(r.inG, g)
	r.inH = append(r.inH, 0)

	// z - a <= 0
	g = mat.NewSymDense(r.dim, nil)
	for i, pi := range prev {
		g.SetSym(0, pi, g.At(0, pi)+w[i]/2)
	}
	g.SetSym(0, va, g.At(0, va)-0.5)
	r.inG = append(r.inG, g)
	r.inH = append(r.inH, -b)

	// a^2 - a*z = 0, i.e. V_aa - sum w_i V_{a,prev_i} - b*v_a = 0
	a := mat.NewSymDense(r.dim, nil)
	a.SetSym(va, va, 1)
	for i, pi := range prev {
		a.SetSym(va, pi, a.At(va, pi)-w[i]/2)
	}
	a.SetSym(0, va, a.At(0, va)-b/2)
	r.eqA = append(r.eqA, a)
	r.eqB = append(r.eqB, 0)
}

// addLinear encodes a = w.prev + b as an equality.
func (r *relaxation) addLinear(va int, prev []int, w []float64, b float64) {
	a := mat.NewSymDense(r.dim, nil)
	a.SetSym(0, va, 0.5)
	for i, pi := range prev {
		a.SetSym(0, pi, a.At(0, pi)-w[i]/2)
	}
	r.eqA = append(r.eqA, a)
	r.eqB = append(r.eqB, b)
}

// problem assembles the SDP for one objective direction. The constant
// output bias is added back by the caller.
func (r *relaxation) problem(coord int, maximize bool) *sdp.Problem {
	c := mat.NewSymDense(r.dim, nil)
	sign := 0.5
	if maximize {
		sign = -0.5
	}
	for i, vi := range r.lastIdx {
		c.SetSym(0, vi, sign*r.outW.At(coord, i))
	}
	return &sdp.Problem{C: c, A: r.eqA, B: r.eqB, G: r.inG, H: r.inH}
}

// intervalLayers runs the interval forward pass keeping per-layer pre-
// and post-activation bounds.
func intervalLayers(net *network.Network, lo, hi []float64) (preLo, preHi, postLo, postHi [][]float64) {
	for _, l := range net.Layers {
		zLo, zHi := affineInterval(l.W, vecSlice(l.B), lo, hi)
		preLo = append(preLo, zLo)
		preHi = append(preHi, zHi)
		aLo := make([]float64, len(zLo))
		aHi := make([]float64, len(zHi))
		for i := range zLo {
			aLo[i] = l.Act.Apply(zLo[i])
			aHi[i] = l.Act.Apply(zHi[i])
		}
		postLo = append(postLo, aLo)
		postHi = append(postHi, aHi)
		lo, hi = aLo, aHi
	}
	return preLo, preHi, postLo, postHi
}

func rowSlice(m *mat.Dense, r int) []float64 {
	_, cols := m.Dims()
	out := make([]float64, cols)
	for j := 0; j < cols; j++ {
		out[j] = m.At(r, j)
	}
	return out
}
