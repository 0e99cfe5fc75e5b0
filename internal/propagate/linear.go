package propagate

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/reachlab/internal/network"
	"github.com/san-kum/reachlab/internal/region"
)

// linearProp bounds the network with per-neuron linear relaxation
// planes and full backward substitution. With adaptive=false the lower
// plane reuses the upper slope (FastLin); with adaptive=true the lower
// slope switches between 0 and 1 per neuron (CROWN).
type linearProp struct {
	closedLoop
	adaptive bool
}

func (p *linearProp) Method() Method {
	if p.adaptive {
		return CROWN
	}
	return FastLin
}

// linBounds holds symbolic bounds Wl*y + bl <= f(y) <= Wu*y + bu valid
// over the input box the bounds were derived on.
type linBounds struct {
	Wl, Wu *mat.Dense
	bl, bu []float64
}

func (p *linearProp) Propagate(ctx context.Context, in region.Region) (region.Region, error) {
	box, err := p.inputBox(in)
	if err != nil {
		return nil, err
	}
	lo, hi, xb := p.stateBounds(box)
	if p.opts.OutputTemplate == nil || xb == nil {
		return p.outputRegion(lo, hi)
	}
	return p.polytopeOutput(*xb, box, lo, hi)
}

// stateBounds computes next-state bounds over a state box. The returned
// symbolic control bounds are nil when control saturation forced the
// interval fallback.
func (p *linearProp) stateBounds(box region.Box) ([]float64, []float64, *linBounds) {
	yLo, yHi := p.obsInterval(box)

	// Linear bounds on the control in terms of the observation, then
	// rewritten in terms of the state through u(y), y = C*x + noise.
	nb := netLinearBounds(p.net, yLo, yHi, p.adaptive)
	xb := p.composeObservation(nb)

	// Concrete control interval, tightened with the interval pass. Both
	// bound the same set, so the intersection stays sound.
	uLo := concretizeLower(xb.Wl, xb.bl, box.Low, box.High)
	uHi := concretizeUpper(xb.Wu, xb.bu, box.Low, box.High)
	iLo, iHi := netInterval(p.net, yLo, yHi)
	uLo, uHi = intersectIntervals(uLo, uHi, iLo, iHi)

	// Saturation breaks the linear coupling between state and control,
	// so a limited system falls back to interval composition for the
	// dynamics step.
	if p.sys.ULimits != nil {
		uLo, uHi = p.clampInterval(uLo, uHi)
		lo, hi := p.dynInterval(box, uLo, uHi)
		return lo, hi, nil
	}

	lo, hi := p.dynLinear(xb, box)
	ivLo, ivHi := p.dynInterval(box, uLo, uHi)
	lo, hi = intersectIntervals(lo, hi, ivLo, ivHi)
	return lo, hi, &xb
}

// composeObservation rewrites control bounds from observation space to
// state space and folds the sensor-noise range into the intercepts.
func (p *linearProp) composeObservation(nb linBounds) linBounds {
	rows, _ := nb.Wl.Dims()
	var wl, wu mat.Dense
	wl.Mul(nb.Wl, p.sys.C)
	wu.Mul(nb.Wu, p.sys.C)
	bl := append([]float64(nil), nb.bl...)
	bu := append([]float64(nil), nb.bu...)
	if n := p.sys.SensorNoise; n != nil {
		lowNoise, _ := affineInterval(nb.Wl, nil, n.Low, n.High)
		_, highNoise := affineInterval(nb.Wu, nil, n.Low, n.High)
		for r := 0; r < rows; r++ {
			bl[r] += lowNoise[r]
			bu[r] += highNoise[r]
		}
	}
	return linBounds{Wl: &wl, Wu: &wu, bl: bl, bu: bu}
}

// dynLinear substitutes the symbolic control bounds through the affine
// dynamics and concretizes each next-state coordinate over the state box.
func (p *linearProp) dynLinear(xb linBounds, box region.Box) ([]float64, []float64) {
	n := p.sys.StateDim()
	m := p.sys.ControlDim()
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := 0; i < n; i++ {
		rowL := make([]float64, n)
		rowU := make([]float64, n)
		for j := 0; j < n; j++ {
			rowL[j] = p.sys.At.At(i, j)
			rowU[j] = p.sys.At.At(i, j)
		}
		cL := p.sys.Ct[i]
		cU := p.sys.Ct[i]
		for j := 0; j < m; j++ {
			w := p.sys.Bt.At(i, j)
			if w >= 0 {
				addScaledRow(rowL, xb.Wl, j, w)
				cL += w * xb.bl[j]
				addScaledRow(rowU, xb.Wu, j, w)
				cU += w * xb.bu[j]
			} else {
				addScaledRow(rowL, xb.Wu, j, w)
				cL += w * xb.bu[j]
				addScaledRow(rowU, xb.Wl, j, w)
				cU += w * xb.bl[j]
			}
		}
		lo[i] = cL + rowMin(rowL, box.Low, box.High)
		hi[i] = cU + rowMax(rowU, box.Low, box.High)
	}
	if pn := p.sys.ProcessNoise; pn != nil {
		for i := 0; i < n; i++ {
			lo[i] += pn.Low[i]
			hi[i] += pn.High[i]
		}
	}
	return lo, hi
}

// polytopeOutput bounds each facet direction of the template directly
// through the symbolic control bounds, which is tighter than taking the
// support of the already-concretized box.
func (p *linearProp) polytopeOutput(xb linBounds, box region.Box, lo, hi []float64) (region.Region, error) {
	template := p.opts.OutputTemplate
	rows, _ := template.Dims()
	n := p.sys.StateDim()
	m := p.sys.ControlDim()
	off := make([]float64, rows)
	for r := 0; r < rows; r++ {
		row := make([]float64, n)
		c := 0.0
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				row[k] += template.At(r, j) * p.sys.At.At(j, k)
			}
			c += template.At(r, j) * p.sys.Ct[j]
		}
		for j := 0; j < m; j++ {
			ab := 0.0
			for k := 0; k < n; k++ {
				ab += template.At(r, k) * p.sys.Bt.At(k, j)
			}
			if ab >= 0 {
				addScaledRow(row, xb.Wu, j, ab)
				c += ab * xb.bu[j]
			} else {
				addScaledRow(row, xb.Wl, j, ab)
				c += ab * xb.bl[j]
			}
		}
		if pn := p.sys.ProcessNoise; pn != nil {
			for j := 0; j < n; j++ {
				if template.At(r, j) >= 0 {
					c += template.At(r, j) * pn.High[j]
				} else {
					c += template.At(r, j) * pn.Low[j]
				}
			}
		}
		support := c + rowMax(row, box.Low, box.High)
		off[r] = min2(support, boxSupport(template, r, lo, hi))
	}
	return region.NewPolytope(template, mat.NewVecDense(rows, off))
}

// netLinearBounds derives symbolic output bounds w.r.t. the network
// input over [yLo, yHi]. Pre-activation bounds are finalized in
// input-to-output order; each layer's backward pass consumes only
// already-finalized earlier layers.
func netLinearBounds(net *network.Network, yLo, yHi []float64, adaptive bool) linBounds {
	depth := len(net.Layers)
	preLo := make([][]float64, depth)
	preHi := make([][]float64, depth)
	var last linBounds
	for k := 0; k < depth; k++ {
		lb := backSubstitute(net, k, preLo, preHi, adaptive)
		preLo[k] = concretizeLower(lb.Wl, lb.bl, yLo, yHi)
		preHi[k] = concretizeUpper(lb.Wu, lb.bu, yLo, yHi)
		last = lb
	}
	// The final layer is identity-activated, so its pre-activation
	// bounds are the output bounds.
	return last
}

// backSubstitute expresses layer k's pre-activation as linear bounds
// over the network input, relaxing each earlier activation with sound
// planes chosen per coefficient sign.
func backSubstitute(net *network.Network, k int, preLo, preHi [][]float64, adaptive bool) linBounds {
	layer := net.Layers[k]
	var wl, wu mat.Dense
	wl.CloneFrom(layer.W)
	wu.CloneFrom(layer.W)
	bl := vecSlice(layer.B)
	bu := vecSlice(layer.B)

	for j := k - 1; j >= 0; j-- {
		prev := net.Layers[j]
		rows, cols := wl.Dims()
		nwl := mat.NewDense(rows, cols, nil)
		nwu := mat.NewDense(rows, cols, nil)
		for i := 0; i < cols; i++ {
			aL, bLi, aU, bUi := relaxPlane(prev.Act, preLo[j][i], preHi[j][i], adaptive)
			for r := 0; r < rows; r++ {
				w := wl.At(r, i)
				if w >= 0 {
					nwl.Set(r, i, w*aL)
					bl[r] += w * bLi
				} else {
					nwl.Set(r, i, w*aU)
					bl[r] += w * bUi
				}
				w = wu.At(r, i)
				if w >= 0 {
					nwu.Set(r, i, w*aU)
					bu[r] += w * bUi
				} else {
					nwu.Set(r, i, w*aL)
					bu[r] += w * bLi
				}
			}
		}
		for r := 0; r < rows; r++ {
			for i := 0; i < cols; i++ {
				bl[r] += nwl.At(r, i) * prev.B.AtVec(i)
				bu[r] += nwu.At(r, i) * prev.B.AtVec(i)
			}
		}
		var tl, tu mat.Dense
		tl.Mul(nwl, prev.W)
		tu.Mul(nwu, prev.W)
		wl.CloneFrom(&tl)
		wu.CloneFrom(&tu)
	}
	return linBounds{Wl: &wl, Wu: &wu, bl: bl, bu: bu}
}

// relaxPlane returns sound bounding planes aL*z+bL <= act(z) <= aU*z+bU
// over the pre-activation interval [l, u].
func relaxPlane(act network.Activation, l, u float64, adaptive bool) (aL, bL, aU, bU float64) {
	if act == network.Identity {
		return 1, 0, 1, 0
	}
	// ReLU.
	switch {
	case l >= 0:
		return 1, 0, 1, 0
	case u <= 0:
		return 0, 0, 0, 0
	case u-l < 1e-12:
		v := act.Apply(l)
		return 0, v, 0, v
	}
	slope := u / (u - l)
	interceptU := -l * u / (u - l)
	if adaptive {
		if u >= -l {
			return 1, 0, slope, interceptU
		}
		return 0, 0, slope, interceptU
	}
	return slope, 0, slope, interceptU
}

func concretizeLower(w *mat.Dense, b, lo, hi []float64) []float64 {
	rows, cols := w.Dims()
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		v := b[r]
		for j := 0; j < cols; j++ {
			c := w.At(r, j)
			if c >= 0 {
				v += c * lo[j]
			} else {
				v += c * hi[j]
			}
		}
		out[r] = v
	}
	return out
}

func concretizeUpper(w *mat.Dense, b, lo, hi []float64) []float64 {
	rows, cols := w.Dims()
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		v := b[r]
		for j := 0; j < cols; j++ {
			c := w.At(r, j)
			if c >= 0 {
				v += c * hi[j]
			} else {
				v += c * lo[j]
			}
		}
		out[r] = v
	}
	return out
}

func addScaledRow(dst []float64, m *mat.Dense, row int, scale float64) {
	_, cols := m.Dims()
	for j := 0; j < cols; j++ {
		dst[j] += scale * m.At(row, j)
	}
}

func rowMin(row, lo, hi []float64) float64 {
	v := 0.0
	for j := range row {
		if row[j] >= 0 {
			v += row[j] * lo[j]
		} else {
			v += row[j] * hi[j]
		}
	}
	return v
}

func rowMax(row, lo, hi []float64) float64 {
	v := 0.0
	for j := range row {
		if row[j] >= 0 {
			v += row[j] * hi[j]
		} else {
			v += row[j] * lo[j]
		}
	}
	return v
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
