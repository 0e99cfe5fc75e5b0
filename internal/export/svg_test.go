package export

import (
	"strings"
	"testing"

	"github.com/san-kum/reachlab/internal/region"
)

func TestReachableSetSVG(t *testing.T) {
	p := Plot{
		Initial: region.MustBox([]float64{2.5, -0.25}, []float64{3.0, 0.25}),
		Bounds: []region.Box{
			region.MustBox([]float64{1.4, -1.9}, []float64{2.95, -0.4}),
			region.MustBox([]float64{0.1, -2.4}, []float64{2.0, -0.9}),
		},
		Samples: [][][]float64{
			{{2.7, 0.1}, {1.9, -1.1}},
		},
		XDim:  0,
		YDim:  1,
		Width: 400, Height: 300,
	}
	svg := ReachableSetSVG(p)

	if !strings.HasPrefix(svg, `<?xml version="1.0"`) {
		t.Error("missing XML header")
	}
	if !strings.HasSuffix(svg, "</svg>") {
		t.Error("missing closing tag")
	}
	if got := strings.Count(svg, "<rect"); got != 4 {
		// background + 2 reachable rects + initial outline
		t.Errorf("expected 4 rects, got %d", got)
	}
	if got := strings.Count(svg, "<circle"); got != 2 {
		t.Errorf("expected 2 sample circles, got %d", got)
	}
	if !strings.Contains(svg, `width="400"`) {
		t.Error("canvas width not applied")
	}
}

func TestReachableSetSVGDefaults(t *testing.T) {
	p := Plot{
		Initial: region.MustBox([]float64{0, 0}, []float64{1, 1}),
		XDim:    0,
		YDim:    1,
	}
	svg := ReachableSetSVG(p)
	if !strings.Contains(svg, `width="800"`) || !strings.Contains(svg, `height="600"`) {
		t.Error("expected default canvas size")
	}
}
