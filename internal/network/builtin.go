package network

import "gonum.org/v1/gonum/mat"

// Built-in benchmark policies. Each is a small ReLU network standing in
// for the trained controllers shipped with the benchmark suite: paired
// ReLU units (relu(w.x) - relu(-w.x) = w.x) realize a stabilizing linear
// feedback exactly, so closed-loop behavior is predictable while the
// network still exercises every nonlinearity-handling code path.

// DoubleIntegratorPolicy returns a 2-4-1 ReLU controller approximating
// the MPC policy for the double integrator: u = -0.41*x0 - 1.35*x1.
func DoubleIntegratorPolicy() *Network {
	w1 := mat.NewDense(4, 2, []float64{
		-0.41, 0,
		0.41, 0,
		0, -1.35,
		0, 1.35,
	})
	w2 := mat.NewDense(1, 4, []float64{1, -1, 1, -1})
	n, err := New([]Layer{
		{W: w1, B: mat.NewVecDense(4, nil), Act: ReLU},
		{W: w2, B: mat.NewVecDense(1, nil), Act: Identity},
	})
	if err != nil {
		panic(err)
	}
	return n
}

// LinearPolicy wraps a plain state-feedback law u = K*y + b as a
// single-layer identity network, so a linear controller runs through
// the same sampling and bounding paths as a trained one. Saturation
// comes from the system's control limits, not the policy.
func LinearPolicy(k *mat.Dense, bias []float64) *Network {
	rows, _ := k.Dims()
	if len(bias) != rows {
		panic("network: bias length does not match gain rows")
	}
	n, err := New([]Layer{
		{W: mat.DenseCopyOf(k), B: mat.NewVecDense(rows, append([]float64(nil), bias...)), Act: Identity},
	})
	if err != nil {
		panic(err)
	}
	return n
}

// QuadrotorPolicy returns a 6-6-3 ReLU hover controller for the
// linearized quadrotor: pitch/roll commands damp horizontal drift and
// the thrust channel regulates altitude around the gravity offset.
func QuadrotorPolicy() *Network {
	k := []float64{
		-0.1, 0, 0, -0.3, 0, 0, // pitch: x position and velocity
		0, 0.1, 0, 0, 0.3, 0, // roll: y position and velocity
		0, 0, -1.0, 0, 0, -1.5, // thrust: altitude and climb rate
	}
	w1 := mat.NewDense(6, 6, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 6; col++ {
			w1.Set(2*row, col, k[row*6+col])
			w1.Set(2*row+1, col, -k[row*6+col])
		}
	}
	w2 := mat.NewDense(3, 6, nil)
	for row := 0; row < 3; row++ {
		w2.Set(row, 2*row, 1)
		w2.Set(row, 2*row+1, -1)
	}
	b2 := mat.NewVecDense(3, []float64{0, 0, 9.8})
	n, err := New([]Layer{
		{W: w1, B: mat.NewVecDense(6, nil), Act: ReLU},
		{W: w2, B: b2, Act: Identity},
	})
	if err != nil {
		panic(err)
	}
	return n
}
