package network

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestActivationApply(t *testing.T) {
	cases := []struct {
		act  Activation
		in   float64
		want float64
	}{
		{ReLU, -1, 0},
		{ReLU, 2, 2},
		{Identity, -3.5, -3.5},
		{Tanh, 0, 0},
		{Sigmoid, 0, 0.5},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, tc.act.Apply(tc.in), 1e-12, "%s(%g)", tc.act, tc.in)
	}
}

func TestNewValidation(t *testing.T) {
	w1 := mat.NewDense(3, 2, nil)
	w2 := mat.NewDense(1, 4, nil) // expects width 3

	_, err := New([]Layer{
		{W: w1, B: mat.NewVecDense(3, nil), Act: ReLU},
		{W: w2, B: mat.NewVecDense(1, nil), Act: Identity},
	})
	assert.Error(t, err, "mismatched layer widths must be rejected")

	_, err = New(nil)
	assert.Error(t, err, "empty network must be rejected")

	_, err = New([]Layer{{W: w1, B: mat.NewVecDense(3, nil), Act: Activation("swish")}})
	assert.Error(t, err, "unknown activation must be rejected")
}

func TestForwardReLU(t *testing.T) {
	// One layer: relu([1 -1; 2 0] x + [0, -1]).
	w := mat.NewDense(2, 2, []float64{1, -1, 2, 0})
	b := mat.NewVecDense(2, []float64{0, -1})
	n, err := New([]Layer{{W: w, B: b, Act: ReLU}})
	require.NoError(t, err)

	out := n.Forward([]float64{1, 2})
	assert.InDelta(t, 0, out[0], 1e-12) // 1-2 = -1 -> 0
	assert.InDelta(t, 1, out[1], 1e-12) // 2-1 = 1
}

func TestDoubleIntegratorPolicyIsLinear(t *testing.T) {
	n := DoubleIntegratorPolicy()
	assert.Equal(t, 2, n.InDim())
	assert.Equal(t, 1, n.OutDim())

	for _, x := range [][]float64{{0, 0}, {1, 0}, {0, 1}, {2.75, -0.1}, {-3, 0.5}} {
		want := -0.41*x[0] - 1.35*x[1]
		got := n.Forward(x)
		assert.InDelta(t, want, got[0], 1e-9, "x=%v", x)
	}
}

func TestQuadrotorPolicyHover(t *testing.T) {
	n := QuadrotorPolicy()
	assert.Equal(t, 6, n.InDim())
	assert.Equal(t, 3, n.OutDim())

	// At the origin the only output is the gravity-offset thrust.
	u := n.Forward(make([]float64, 6))
	assert.InDelta(t, 0, u[0], 1e-9)
	assert.InDelta(t, 0, u[1], 1e-9)
	assert.InDelta(t, 9.8, u[2], 1e-9)

	// A climb rate pulls thrust below hover.
	u = n.Forward([]float64{0, 0, 0, 0, 0, 1})
	assert.Less(t, u[2], 9.8)
}

func TestLinearPolicy(t *testing.T) {
	k := mat.NewDense(1, 2, []float64{-0.41, -1.35})
	n := LinearPolicy(k, []float64{0.5})
	assert.Equal(t, 2, n.InDim())
	assert.Equal(t, 1, n.OutDim())

	for _, x := range [][]float64{{0, 0}, {2.75, -0.1}, {-1, 3}} {
		want := -0.41*x[0] - 1.35*x[1] + 0.5
		assert.InDelta(t, want, n.Control(x)[0], 1e-12, "x=%v", x)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	orig := DoubleIntegratorPolicy()
	require.NoError(t, Save(path, orig))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Layers, len(orig.Layers))

	for _, x := range [][]float64{{2.5, -0.25}, {3.0, 0.25}, {0, 0}} {
		a := orig.Forward(x)
		b := loaded.Forward(x)
		for i := range a {
			assert.False(t, math.IsNaN(b[i]))
			assert.InDelta(t, a[i], b[i], 1e-12)
		}
	}
}

func TestLoadRejectsRaggedWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"layers":[{"weights":[[1,2],[3]],"bias":[0,0],"activation":"relu"}]}`), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
