package export

import (
	"fmt"
	"strings"

	"github.com/san-kum/reachlab/internal/region"
)

// Plot describes one SVG render of a reachability run projected onto
// two state dimensions.
type Plot struct {
	Initial region.Box
	Bounds  []region.Box
	Samples [][][]float64 // run x timestep x state, optional
	XDim    int
	YDim    int
	Width   int
	Height  int
}

// timestep colors cycle from hot to cold so the set's drift over the
// horizon stays readable.
var stepColors = []string{
	"#ff5555", "#ff9955", "#ffdd55", "#99dd55",
	"#55ddaa", "#55aadd", "#5577dd", "#9955dd",
}

// ReachableSetSVG renders the initial region, the per-timestep
// reachable rectangles, and the sampled states as an SVG document.
func ReachableSetSVG(p Plot) string {
	if p.Width <= 0 {
		p.Width = 800
	}
	if p.Height <= 0 {
		p.Height = 600
	}

	// Find bounds over everything drawn
	minX, maxX := p.Initial.Low[p.XDim], p.Initial.High[p.XDim]
	minY, maxY := p.Initial.Low[p.YDim], p.Initial.High[p.YDim]
	for _, b := range p.Bounds {
		if b.Low[p.XDim] < minX {
			minX = b.Low[p.XDim]
		}
		if b.High[p.XDim] > maxX {
			maxX = b.High[p.XDim]
		}
		if b.Low[p.YDim] < minY {
			minY = b.Low[p.YDim]
		}
		if b.High[p.YDim] > maxY {
			maxY = b.High[p.YDim]
		}
	}

	// Add padding
	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	maxX += rangeX * 0.1
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeX = maxX - minX
	rangeY = maxY - minY

	toX := func(v float64) float64 { return (v - minX) / rangeX * float64(p.Width) }
	toY := func(v float64) float64 { return float64(p.Height) - (v-minY)/rangeY*float64(p.Height) }

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, p.Width, p.Height, p.Width, p.Height))

	// Reachable rectangles, one per timestep
	for t, b := range p.Bounds {
		color := stepColors[t%len(stepColors)]
		x := toX(b.Low[p.XDim])
		y := toY(b.High[p.YDim])
		w := toX(b.High[p.XDim]) - x
		h := toY(b.Low[p.YDim]) - y
		sb.WriteString(fmt.Sprintf(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s" fill-opacity="0.15" stroke="%s" stroke-width="1.5"/>
`, x, y, w, h, color, color))
	}

	// Initial region outline
	{
		x := toX(p.Initial.Low[p.XDim])
		y := toY(p.Initial.High[p.YDim])
		w := toX(p.Initial.High[p.XDim]) - x
		h := toY(p.Initial.Low[p.YDim]) - y
		sb.WriteString(fmt.Sprintf(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="none" stroke="#ffffff" stroke-width="2" stroke-dasharray="6,3"/>
`, x, y, w, h))
	}

	// Sample scatter
	if len(p.Samples) > 0 {
		sb.WriteString(`<g fill="#00ff00" fill-opacity="0.6">
`)
		for _, run := range p.Samples {
			for _, state := range run {
				if p.XDim >= len(state) || p.YDim >= len(state) {
					continue
				}
				sb.WriteString(fmt.Sprintf(`<circle cx="%.1f" cy="%.1f" r="1.5"/>
`, toX(state[p.XDim]), toY(state[p.YDim])))
			}
		}
		sb.WriteString("</g>\n")
	}

	sb.WriteString("</svg>")
	return sb.String()
}
