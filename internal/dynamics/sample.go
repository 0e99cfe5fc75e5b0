package dynamics

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/reachlab/internal/region"
)

// SampleSet holds Monte-Carlo rollouts of the true closed loop: one
// state row per timestep per run (timestep 0 is the initial draw), and
// the control applied at each step.
type SampleSet struct {
	States   [][][]float64 // run x timestep x state
	Controls [][][]float64 // run x timestep x control
	Dt       float64
}

// Runs returns the number of sampled trajectories.
func (ss *SampleSet) Runs() int { return len(ss.States) }

// Steps returns the number of recorded timesteps, including t=0.
func (ss *SampleSet) Steps() int {
	if len(ss.States) == 0 {
		return 0
	}
	return len(ss.States[0])
}

// Ranges returns the per-timestep min/max box over all runs for
// timesteps 1..T, i.e. the empirical under-approximation of each
// reachable set. Timestep 0 is the initial region and is excluded.
func (ss *SampleSet) Ranges() []region.Box {
	steps := ss.Steps()
	if steps < 2 {
		return nil
	}
	out := make([]region.Box, 0, steps-1)
	dim := len(ss.States[0][0])
	for t := 1; t < steps; t++ {
		low := make([]float64, dim)
		high := make([]float64, dim)
		for j := 0; j < dim; j++ {
			low[j] = math.Inf(1)
			high[j] = math.Inf(-1)
		}
		for r := range ss.States {
			for j := 0; j < dim; j++ {
				v := ss.States[r][t][j]
				low[j] = math.Min(low[j], v)
				high[j] = math.Max(high[j], v)
			}
		}
		out = append(out, region.Box{Low: low, High: high, P: math.Inf(1)})
	}
	return out
}

// SampleTrajectories rolls out count closed-loop trajectories from
// initial states drawn uniformly over the region. Polytope regions draw
// over the enclosing box and reject points outside Ax <= b. The rng is
// the only randomness source; callers own the seed.
func (s *System) SampleTrajectories(rng *rand.Rand, reg region.Region, policy Policy, count int, tMax float64) (*SampleSet, error) {
	if count <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", count)
	}
	box, err := reg.ToBox()
	if err != nil {
		return nil, err
	}
	if box.Dim() != s.StateDim() {
		return nil, fmt.Errorf("region dim %d does not match state dim %d", box.Dim(), s.StateDim())
	}
	steps := s.Timesteps(tMax)
	if steps < 1 {
		return nil, fmt.Errorf("horizon %g shorter than one step (dt=%g)", tMax, s.Dt)
	}

	_, isPoly := reg.(region.Polytope)

	ss := &SampleSet{
		States:   make([][][]float64, count),
		Controls: make([][][]float64, count),
		Dt:       s.Dt,
	}
	for r := 0; r < count; r++ {
		x, err := drawInitial(rng, reg, box, isPoly)
		if err != nil {
			return nil, err
		}
		states := make([][]float64, 0, steps+1)
		controls := make([][]float64, 0, steps)
		states = append(states, x)
		for t := 0; t < steps; t++ {
			obs := s.Observe(x, rng)
			u := s.ClampControl(policy.Control(obs))
			x = s.Step(x, u, rng)
			states = append(states, x)
			controls = append(controls, u)
		}
		ss.States[r] = states
		ss.Controls[r] = controls
	}
	return ss, nil
}

// drawInitial draws uniformly over the box, rejection-filtering through
// the polytope constraints when the region is one.
func drawInitial(rng *rand.Rand, reg region.Region, box region.Box, isPoly bool) ([]float64, error) {
	const maxAttempts = 10000
	for attempt := 0; attempt < maxAttempts; attempt++ {
		x := make([]float64, box.Dim())
		for j := range x {
			x[j] = uniform(rng, box.Low[j], box.High[j])
		}
		if !isPoly || reg.Contains(x) {
			return x, nil
		}
	}
	return nil, fmt.Errorf("rejection sampling failed after %d attempts; region nearly empty", maxAttempts)
}
