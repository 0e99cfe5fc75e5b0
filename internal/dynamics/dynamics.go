// Package dynamics supplies the plant side of the closed loop: affine
// discrete-time state transition, observation with optional sensor
// noise, control-input limits, and a sampling-based simulator used for
// empirical validation of computed bounds.
//
// A [System] is defined by x' = At*x + Bt*u + Ct (+ process noise) and
// y = C*x (+ sensor noise). The benchmark plants are:
//
//   - [DoubleIntegrator]: 2 states, 1 control, dt=1
//   - [Quadrotor]: linearized 6-state, 3-control model, dt=0.1
//
// each with an output-feedback variant that adds bounded sensor and
// process noise.
package dynamics

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/reachlab/internal/region"
)

// timeEps guards the timestep count against floating-point accumulation
// dropping the final step.
const timeEps = 1e-10

// Policy maps an observation to a control action. Satisfied by the
// neural controller's forward pass and by the linear fallback policy.
type Policy interface {
	Control(obs []float64) []float64
}

// System is a linear/affine discrete-time plant.
type System struct {
	Name string

	At *mat.Dense // n x n state transition
	Bt *mat.Dense // n x m control input
	Ct []float64  // n affine offset

	C *mat.Dense // p x n observation matrix

	SensorNoise  *region.Box // additive, over observation space
	ProcessNoise *region.Box // additive, over state space
	ULimits      *region.Box // control clamp, over control space

	Dt float64
}

// Validate checks that the matrix dimensions are mutually consistent.
func (s *System) Validate() error {
	n, nc := s.At.Dims()
	if n != nc {
		return fmt.Errorf("%s: At must be square, got %dx%d", s.Name, n, nc)
	}
	bn, _ := s.Bt.Dims()
	if bn != n {
		return fmt.Errorf("%s: Bt has %d rows, want %d", s.Name, bn, n)
	}
	if len(s.Ct) != n {
		return fmt.Errorf("%s: Ct has length %d, want %d", s.Name, len(s.Ct), n)
	}
	_, cn := s.C.Dims()
	if cn != n {
		return fmt.Errorf("%s: C has %d columns, want %d", s.Name, cn, n)
	}
	if s.ULimits != nil && s.ULimits.Dim() != s.ControlDim() {
		return fmt.Errorf("%s: control limits dim %d, want %d", s.Name, s.ULimits.Dim(), s.ControlDim())
	}
	if s.SensorNoise != nil && s.SensorNoise.Dim() != s.ObsDim() {
		return fmt.Errorf("%s: sensor noise dim %d, want %d", s.Name, s.SensorNoise.Dim(), s.ObsDim())
	}
	if s.ProcessNoise != nil && s.ProcessNoise.Dim() != n {
		return fmt.Errorf("%s: process noise dim %d, want %d", s.Name, s.ProcessNoise.Dim(), n)
	}
	if s.Dt <= 0 {
		return fmt.Errorf("%s: dt must be positive, got %g", s.Name, s.Dt)
	}
	return nil
}

func (s *System) StateDim() int {
	n, _ := s.At.Dims()
	return n
}

func (s *System) ControlDim() int {
	_, m := s.Bt.Dims()
	return m
}

func (s *System) ObsDim() int {
	p, _ := s.C.Dims()
	return p
}

// Timesteps returns the number of discrete steps covering tMax,
// tolerating float accumulation in tMax/dt.
func (s *System) Timesteps(tMax float64) int {
	return int((tMax + timeEps) / s.Dt)
}

// Step applies one transition. A nil rng gives the nominal (noise-free)
// step; otherwise process noise is drawn uniformly from its box.
func (s *System) Step(x, u []float64, rng *rand.Rand) []float64 {
	n := s.StateDim()
	next := make([]float64, n)
	for i := 0; i < n; i++ {
		v := s.Ct[i]
		for j := 0; j < n; j++ {
			v += s.At.At(i, j) * x[j]
		}
		for j := 0; j < s.ControlDim(); j++ {
			v += s.Bt.At(i, j) * u[j]
		}
		next[i] = v
	}
	if rng != nil && s.ProcessNoise != nil {
		for i := 0; i < n; i++ {
			next[i] += uniform(rng, s.ProcessNoise.Low[i], s.ProcessNoise.High[i])
		}
	}
	return next
}

// Observe maps a state to a measurement, drawing sensor noise when an
// rng is supplied.
func (s *System) Observe(x []float64, rng *rand.Rand) []float64 {
	p := s.ObsDim()
	obs := make([]float64, p)
	for i := 0; i < p; i++ {
		v := 0.0
		for j := 0; j < s.StateDim(); j++ {
			v += s.C.At(i, j) * x[j]
		}
		obs[i] = v
	}
	if rng != nil && s.SensorNoise != nil {
		for i := 0; i < p; i++ {
			obs[i] += uniform(rng, s.SensorNoise.Low[i], s.SensorNoise.High[i])
		}
	}
	return obs
}

// ClampControl saturates the control action at the input limits.
func (s *System) ClampControl(u []float64) []float64 {
	if s.ULimits == nil {
		return u
	}
	out := make([]float64, len(u))
	for i := range u {
		out[i] = math.Min(math.Max(u[i], s.ULimits.Low[i]), s.ULimits.High[i])
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}
