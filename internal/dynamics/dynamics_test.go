package dynamics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/san-kum/reachlab/internal/network"
	"github.com/san-kum/reachlab/internal/region"
)

func TestSystemsValidate(t *testing.T) {
	systems := []*System{
		DoubleIntegrator(),
		DoubleIntegratorOutputFeedback(),
		Quadrotor(),
		QuadrotorOutputFeedback(),
	}
	for _, s := range systems {
		if err := s.Validate(); err != nil {
			t.Errorf("%s: %v", s.Name, err)
		}
	}
}

func TestDoubleIntegratorStep(t *testing.T) {
	s := DoubleIntegrator()
	next := s.Step([]float64{1, 2}, []float64{0.5}, nil)

	// x' = x + v + 0.5u, v' = v + u
	if math.Abs(next[0]-3.25) > 1e-12 {
		t.Errorf("position: got %f, want 3.25", next[0])
	}
	if math.Abs(next[1]-2.5) > 1e-12 {
		t.Errorf("velocity: got %f, want 2.5", next[1])
	}
}

func TestQuadrotorHoverFixedPoint(t *testing.T) {
	s := Quadrotor()
	// Zero state with exact hover thrust stays put.
	next := s.Step(make([]float64, 6), []float64{0, 0, gravity}, nil)
	for i, v := range next {
		if math.Abs(v) > 1e-12 {
			t.Errorf("state %d drifted to %g under hover thrust", i, v)
		}
	}
}

func TestClampControl(t *testing.T) {
	s := Quadrotor()
	u := s.ClampControl([]float64{1.0, -1.0, 100})
	if u[0] != math.Pi/9 || u[1] != -math.Pi/9 {
		t.Errorf("tilt commands not clamped: %v", u)
	}
	if u[2] != 2*gravity {
		t.Errorf("thrust not clamped: %g", u[2])
	}

	di := DoubleIntegrator()
	u = di.ClampControl([]float64{42})
	if u[0] != 42 {
		t.Errorf("no limits set, control must pass through, got %g", u[0])
	}
}

func TestTimesteps(t *testing.T) {
	cases := []struct {
		dt, tMax float64
		want     int
	}{
		{1, 2, 2},
		{0.1, 2, 20},
		{0.1, 1.9999999999, 20}, // accumulated float error must not drop the final step
		{1, 0.5, 0},
	}
	for _, tc := range cases {
		s := DoubleIntegrator()
		s.Dt = tc.dt
		if got := s.Timesteps(tc.tMax); got != tc.want {
			t.Errorf("Timesteps(%g) with dt=%g: got %d, want %d", tc.tMax, tc.dt, got, tc.want)
		}
	}
}

func TestSampleTrajectoriesDeterministic(t *testing.T) {
	s := DoubleIntegrator()
	policy := network.DoubleIntegratorPolicy()
	box := region.MustBox([]float64{2.5, -0.25}, []float64{3.0, 0.25})

	a, err := s.SampleTrajectories(rand.New(rand.NewSource(7)), box, policy, 20, 2)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	b, err := s.SampleTrajectories(rand.New(rand.NewSource(7)), box, policy, 20, 2)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	if a.Runs() != 20 || a.Steps() != 3 {
		t.Fatalf("got %d runs, %d steps; want 20 runs, 3 steps", a.Runs(), a.Steps())
	}
	for r := range a.States {
		for tt := range a.States[r] {
			for j := range a.States[r][tt] {
				if a.States[r][tt][j] != b.States[r][tt][j] {
					t.Fatalf("same seed produced different trajectories at run %d, t %d", r, tt)
				}
			}
		}
	}
}

func TestSampleInitialStatesInsideRegion(t *testing.T) {
	s := DoubleIntegrator()
	policy := network.DoubleIntegratorPolicy()
	box := region.MustBox([]float64{2.5, -0.25}, []float64{3.0, 0.25})

	ss, err := s.SampleTrajectories(rand.New(rand.NewSource(1)), box, policy, 50, 1)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	for r := range ss.States {
		if !box.Contains(ss.States[r][0]) {
			t.Errorf("initial state %v outside region", ss.States[r][0])
		}
	}
}

func TestSamplePolytopeRejection(t *testing.T) {
	// Triangle inside the unit square: draws must satisfy x+y <= 1.
	s := DoubleIntegrator()
	policy := network.DoubleIntegratorPolicy()
	poly, err := region.MustBox([]float64{0, 0}, []float64{1, 1}).ToPolytope(0)
	if err != nil {
		t.Fatal(err)
	}

	ss, err := s.SampleTrajectories(rand.New(rand.NewSource(3)), poly, policy, 30, 1)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	for r := range ss.States {
		if !poly.Contains(ss.States[r][0]) {
			t.Errorf("initial state %v outside polytope", ss.States[r][0])
		}
	}
}

func TestRangesExcludeInitialStep(t *testing.T) {
	s := DoubleIntegrator()
	policy := network.DoubleIntegratorPolicy()
	box := region.MustBox([]float64{2.5, -0.25}, []float64{3.0, 0.25})

	ss, err := s.SampleTrajectories(rand.New(rand.NewSource(2)), box, policy, 40, 2)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	ranges := ss.Ranges()
	if len(ranges) != 2 {
		t.Fatalf("got %d ranges, want 2", len(ranges))
	}
	for tt, r := range ranges {
		for run := range ss.States {
			if !r.Contains(ss.States[run][tt+1]) {
				t.Errorf("sample at t=%d outside its own range box", tt+1)
			}
		}
	}
}

func TestZeroWidthRegionPropagatesAsPoint(t *testing.T) {
	s := DoubleIntegrator()
	policy := network.DoubleIntegratorPolicy()
	point := region.MustBox([]float64{1, 0}, []float64{1, 0})

	ss, err := s.SampleTrajectories(rand.New(rand.NewSource(5)), point, policy, 10, 1)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	ranges := ss.Ranges()
	for j := 0; j < 2; j++ {
		if ranges[0].Width(j) > 1e-12 {
			t.Errorf("deterministic point input produced width %g in dim %d", ranges[0].Width(j), j)
		}
	}
}
