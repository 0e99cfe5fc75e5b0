// Package network provides the feed-forward neural controller: dense
// layers with elementwise activations, a plain forward evaluation used by
// the trajectory sampler, and direct weight access for the bound
// propagators. Weights load from JSON files produced by the training
// pipeline; small built-in policies cover the benchmark systems.
package network

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Activation is an elementwise layer nonlinearity.
type Activation string

const (
	Identity Activation = "identity"
	ReLU     Activation = "relu"
	Tanh     Activation = "tanh"
	Sigmoid  Activation = "sigmoid"
)

// Apply evaluates the activation at v.
func (a Activation) Apply(v float64) float64 {
	switch a {
	case ReLU:
		return math.Max(0, v)
	case Tanh:
		return math.Tanh(v)
	case Sigmoid:
		return 1 / (1 + math.Exp(-v))
	default:
		return v
	}
}

// Layer is one dense layer: act(W x + b).
type Layer struct {
	W   *mat.Dense
	B   *mat.VecDense
	Act Activation
}

// OutDim returns the layer's output width.
func (l Layer) OutDim() int {
	r, _ := l.W.Dims()
	return r
}

// InDim returns the layer's input width.
func (l Layer) InDim() int {
	_, c := l.W.Dims()
	return c
}

// Network is a feed-forward stack of dense layers.
type Network struct {
	Layers []Layer
}

// New validates layer dimension chaining.
func New(layers []Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("network needs at least one layer")
	}
	for i := 1; i < len(layers); i++ {
		if layers[i].InDim() != layers[i-1].OutDim() {
			return nil, fmt.Errorf("layer %d input width %d does not match layer %d output width %d",
				i, layers[i].InDim(), i-1, layers[i-1].OutDim())
		}
	}
	for i, l := range layers {
		if l.B.Len() != l.OutDim() {
			return nil, fmt.Errorf("layer %d bias length %d does not match %d rows", i, l.B.Len(), l.OutDim())
		}
		switch l.Act {
		case Identity, ReLU, Tanh, Sigmoid:
		default:
			return nil, fmt.Errorf("layer %d: unknown activation %q", i, l.Act)
		}
	}
	return &Network{Layers: layers}, nil
}

// InDim returns the network input width.
func (n *Network) InDim() int { return n.Layers[0].InDim() }

// OutDim returns the network output width.
func (n *Network) OutDim() int { return n.Layers[len(n.Layers)-1].OutDim() }

// Forward evaluates the network at a single point.
func (n *Network) Forward(x []float64) []float64 {
	v := mat.NewVecDense(len(x), nil)
	for i, xi := range x {
		v.SetVec(i, xi)
	}
	for _, l := range n.Layers {
		var z mat.VecDense
		z.MulVec(l.W, v)
		z.AddVec(&z, l.B)
		for i := 0; i < z.Len(); i++ {
			z.SetVec(i, l.Act.Apply(z.AtVec(i)))
		}
		v = &z
	}
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// Control makes Network satisfy the sampler's policy interface.
func (n *Network) Control(obs []float64) []float64 { return n.Forward(obs) }

type layerSpec struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

type networkSpec struct {
	Layers []layerSpec `json:"layers"`
}

// Load reads a network from a JSON weight file.
func Load(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec networkSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	layers := make([]Layer, 0, len(spec.Layers))
	for i, ls := range spec.Layers {
		if len(ls.Weights) == 0 || len(ls.Weights[0]) == 0 {
			return nil, fmt.Errorf("layer %d: empty weight matrix", i)
		}
		rows, cols := len(ls.Weights), len(ls.Weights[0])
		w := mat.NewDense(rows, cols, nil)
		for r, row := range ls.Weights {
			if len(row) != cols {
				return nil, fmt.Errorf("layer %d: ragged weight matrix", i)
			}
			for c, v := range row {
				w.Set(r, c, v)
			}
		}
		act := Activation(ls.Activation)
		if act == "" {
			act = Identity
		}
		layers = append(layers, Layer{W: w, B: mat.NewVecDense(len(ls.Bias), ls.Bias), Act: act})
	}
	return New(layers)
}

// Save writes the network to a JSON weight file.
func Save(path string, n *Network) error {
	spec := networkSpec{Layers: make([]layerSpec, 0, len(n.Layers))}
	for _, l := range n.Layers {
		rows, cols := l.W.Dims()
		ws := make([][]float64, rows)
		for r := 0; r < rows; r++ {
			ws[r] = make([]float64, cols)
			for c := 0; c < cols; c++ {
				ws[r][c] = l.W.At(r, c)
			}
		}
		bs := make([]float64, l.B.Len())
		for i := range bs {
			bs[i] = l.B.AtVec(i)
		}
		spec.Layers = append(spec.Layers, layerSpec{Weights: ws, Bias: bs, Activation: string(l.Act)})
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
