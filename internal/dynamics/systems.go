package dynamics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/reachlab/internal/region"
)

const gravity = 9.8

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// DoubleIntegrator is the discrete double integrator benchmark:
// position/velocity pair driven by acceleration, dt=1.
func DoubleIntegrator() *System {
	return &System{
		Name: "double_integrator",
		At:   mat.NewDense(2, 2, []float64{1, 1, 0, 1}),
		Bt:   mat.NewDense(2, 1, []float64{0.5, 1}),
		Ct:   []float64{0, 0},
		C:    eye(2),
		Dt:   1,
	}
}

// DoubleIntegratorOutputFeedback is the double integrator measured
// through a noisy sensor, with matching process noise on the plant.
func DoubleIntegratorOutputFeedback() *System {
	s := DoubleIntegrator()
	s.Name = "double_integrator_output_feedback"
	s.SensorNoise = noiseBox(2, 0.01)
	s.ProcessNoise = noiseBox(2, 0.01)
	return s
}

// Quadrotor is the linearized six-state quadrotor benchmark: positions
// (x, y, z) and velocities (vx, vy, vz), with pitch, roll and thrust
// commands, dt=0.1. Thrust enters relative to gravity, hence the affine
// offset on the climb rate.
func Quadrotor() *System {
	dt := 0.1
	at := eye(6)
	at.Set(0, 3, dt)
	at.Set(1, 4, dt)
	at.Set(2, 5, dt)

	bt := mat.NewDense(6, 3, nil)
	bt.Set(3, 0, gravity*dt)
	bt.Set(4, 1, -gravity*dt)
	bt.Set(5, 2, dt)

	uLim := region.MustBox(
		[]float64{-math.Pi / 9, -math.Pi / 9, 0},
		[]float64{math.Pi / 9, math.Pi / 9, 2 * gravity},
	)

	return &System{
		Name:    "quadrotor",
		At:      at,
		Bt:      bt,
		Ct:      []float64{0, 0, 0, 0, 0, -gravity * dt},
		C:       eye(6),
		ULimits: &uLim,
		Dt:      dt,
	}
}

// QuadrotorOutputFeedback adds bounded sensor and process noise to the
// quadrotor model.
func QuadrotorOutputFeedback() *System {
	s := Quadrotor()
	s.Name = "quadrotor_output_feedback"
	s.SensorNoise = noiseBox(6, 0.005)
	s.ProcessNoise = noiseBox(6, 0.005)
	return s
}

// ByName resolves a system by CLI name and feedback mode.
func ByName(name string, stateFeedback bool) (*System, bool) {
	switch name {
	case "double_integrator":
		if stateFeedback {
			return DoubleIntegrator(), true
		}
		return DoubleIntegratorOutputFeedback(), true
	case "quadrotor":
		if stateFeedback {
			return Quadrotor(), true
		}
		return QuadrotorOutputFeedback(), true
	}
	return nil, false
}

func noiseBox(dim int, mag float64) *region.Box {
	low := make([]float64, dim)
	high := make([]float64, dim)
	for i := range low {
		low[i] = -mag
		high[i] = mag
	}
	b := region.MustBox(low, high)
	return &b
}
