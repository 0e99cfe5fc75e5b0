package propagate

import (
	"context"

	"github.com/san-kum/reachlab/internal/network"
	"github.com/san-kum/reachlab/internal/region"
)

// ibpProp propagates intervals layer by layer: affine maps by
// worst-case sign selection, activations by monotonicity. Cheapest and
// loosest of the strategies.
type ibpProp struct {
	closedLoop
}

func (p *ibpProp) Method() Method { return IBP }

func (p *ibpProp) Propagate(ctx context.Context, in region.Region) (region.Region, error) {
	box, err := p.inputBox(in)
	if err != nil {
		return nil, err
	}
	yLo, yHi := p.obsInterval(box)
	uLo, uHi := netInterval(p.net, yLo, yHi)
	uLo, uHi = p.clampInterval(uLo, uHi)
	lo, hi := p.dynInterval(box, uLo, uHi)
	return p.outputRegion(lo, hi)
}

// netInterval runs an interval forward pass through the network. Every
// supported activation is monotone non-decreasing, so activating the
// endpoints bounds the activated interval.
func netInterval(net *network.Network, lo, hi []float64) ([]float64, []float64) {
	for _, l := range net.Layers {
		lo, hi = affineInterval(l.W, vecSlice(l.B), lo, hi)
		for i := range lo {
			lo[i] = l.Act.Apply(lo[i])
			hi[i] = l.Act.Apply(hi[i])
		}
	}
	return lo, hi
}
