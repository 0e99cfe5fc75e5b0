package analyze

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/reachlab/internal/dynamics"
	"github.com/san-kum/reachlab/internal/network"
	"github.com/san-kum/reachlab/internal/partition"
	"github.com/san-kum/reachlab/internal/propagate"
	"github.com/san-kum/reachlab/internal/region"
)

var initBox = region.MustBox([]float64{2.5, -0.25}, []float64{3.0, 0.25})

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newAnalyzer(t *testing.T, method propagate.Method, cells []int) *Analyzer {
	t.Helper()
	sys := dynamics.DoubleIntegrator()
	net := network.DoubleIntegratorPolicy()
	prop, err := propagate.New(method, net, sys, propagate.Options{})
	require.NoError(t, err)

	strategy := partition.None
	if len(cells) > 0 {
		strategy = partition.Uniform
	}
	part, err := partition.New(strategy, cells)
	require.NoError(t, err)

	return New(prop, part, sys, net, Options{Log: quietLog()})
}

func TestTwoStepScenario(t *testing.T) {
	a := newAnalyzer(t, propagate.IBP, []int{4, 4})
	bounds, info, err := a.GetReachableSet(context.Background(), initBox, 2)
	require.NoError(t, err)
	require.Len(t, bounds, 2)
	require.Len(t, info.Steps, 2)
	assert.Equal(t, 16, info.Steps[0].Cells)
	assert.Equal(t, 16, info.Steps[1].Cells)
	assert.Positive(t, info.Total)

	// Partitioning can only tighten: the [4,4] result sits inside the
	// unpartitioned one at every step.
	whole := newAnalyzer(t, propagate.IBP, nil)
	coarse, _, err := whole.GetReachableSet(context.Background(), initBox, 2)
	require.NoError(t, err)
	for i := range bounds {
		fine, err := bounds[i].ToBox()
		require.NoError(t, err)
		loose, err := coarse[i].ToBox()
		require.NoError(t, err)
		for d := 0; d < 2; d++ {
			assert.GreaterOrEqual(t, fine.Low[d], loose.Low[d]-1e-12)
			assert.LessOrEqual(t, fine.High[d], loose.High[d]+1e-12)
		}
	}
}

func TestPartitionRefinementTightens(t *testing.T) {
	coarse := newAnalyzer(t, propagate.CROWN, []int{1, 1})
	fine := newAnalyzer(t, propagate.CROWN, []int{2, 2})

	cb, _, err := coarse.GetReachableSet(context.Background(), initBox, 3)
	require.NoError(t, err)
	fb, _, err := fine.GetReachableSet(context.Background(), initBox, 3)
	require.NoError(t, err)

	cBox, err := cb[len(cb)-1].ToBox()
	require.NoError(t, err)
	fBox, err := fb[len(fb)-1].ToBox()
	require.NoError(t, err)
	assert.LessOrEqual(t, fBox.Volume(), cBox.Volume()+1e-12)
}

func TestDeterminism(t *testing.T) {
	run := func() []region.Region {
		a := newAnalyzer(t, propagate.CROWN, []int{2, 2})
		bounds, _, err := a.GetReachableSet(context.Background(), initBox, 4)
		require.NoError(t, err)
		return bounds
	}
	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		fa, err := first[i].ToBox()
		require.NoError(t, err)
		fb, err := second[i].ToBox()
		require.NoError(t, err)
		assert.Equal(t, fa.Low, fb.Low, "step %d", i)
		assert.Equal(t, fa.High, fb.High, "step %d", i)
	}
}

func TestStatisticalSoundness(t *testing.T) {
	a := newAnalyzer(t, propagate.IBP, []int{4, 4})
	bounds, _, err := a.GetReachableSet(context.Background(), initBox, 3)
	require.NoError(t, err)

	sys := dynamics.DoubleIntegrator()
	net := network.DoubleIntegratorPolicy()
	rng := rand.New(rand.NewSource(7))
	ss, err := sys.SampleTrajectories(rng, initBox, net, 300, 3)
	require.NoError(t, err)

	for r := range ss.States {
		for t2 := 1; t2 < ss.Steps(); t2++ {
			assert.True(t, bounds[t2-1].Contains(ss.States[r][t2]),
				"run %d escaped bound at step %d: %v", r, t2, ss.States[r][t2])
		}
	}
}

func TestEstimateError(t *testing.T) {
	a := newAnalyzer(t, propagate.IBP, []int{2, 2})
	ctx := context.Background()
	bounds, _, err := a.GetReachableSet(ctx, initBox, 3)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(21))
	final, avg, err := a.EstimateError(ctx, initBox, bounds, 3, 500, rng)
	require.NoError(t, err)
	// The computed bound over-approximates, so the gap is nonnegative.
	assert.GreaterOrEqual(t, final, 0.0)
	assert.GreaterOrEqual(t, avg, 0.0)
}

func TestObserverSeesEveryStep(t *testing.T) {
	var updates []StepUpdate
	sys := dynamics.DoubleIntegrator()
	net := network.DoubleIntegratorPolicy()
	prop, err := propagate.New(propagate.IBP, net, sys, propagate.Options{})
	require.NoError(t, err)
	part, err := partition.New(partition.Uniform, []int{2, 2})
	require.NoError(t, err)
	a := New(prop, part, sys, net, Options{
		Log:      quietLog(),
		Observer: func(u StepUpdate) { updates = append(updates, u) },
	})

	_, _, err = a.GetReachableSet(context.Background(), initBox, 3)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, 1, updates[0].Step)
	assert.Equal(t, 3, updates[0].Steps)
	assert.Equal(t, 4, updates[0].Cells)
	assert.Len(t, updates[0].Widths, 2)
}

// failingProp fails on one specific cell to exercise the abort path.
type failingProp struct {
	inner    propagate.Propagator
	failCell region.Region
}

func (f *failingProp) Method() propagate.Method { return f.inner.Method() }

func (f *failingProp) Propagate(ctx context.Context, in region.Region) (region.Region, error) {
	if b, ok := in.(region.Box); ok {
		if fb, ok2 := f.failCell.(region.Box); ok2 && b.Low[0] == fb.Low[0] && b.Low[1] == fb.Low[1] {
			return nil, propagate.SolverError{Step: -1, Cell: -1, Reason: "relaxation diverged", Err: errors.New("not converged")}
		}
	}
	return f.inner.Propagate(ctx, in)
}

func TestSolverErrorAbortsTimestep(t *testing.T) {
	sys := dynamics.DoubleIntegrator()
	net := network.DoubleIntegratorPolicy()
	inner, err := propagate.New(propagate.IBP, net, sys, propagate.Options{})
	require.NoError(t, err)
	part, err := partition.New(partition.Uniform, []int{2, 2})
	require.NoError(t, err)

	cells, err := part.Partition(initBox)
	require.NoError(t, err)
	a := New(&failingProp{inner: inner, failCell: cells[2]}, part, sys, net, Options{Log: quietLog()})

	bounds, info, err := a.GetReachableSet(context.Background(), initBox, 2)
	require.Error(t, err)
	assert.Nil(t, bounds)
	assert.Nil(t, info)

	var se propagate.SolverError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Step)
	assert.Equal(t, 2, se.Cell)
}

func TestHorizonShorterThanStep(t *testing.T) {
	a := newAnalyzer(t, propagate.IBP, nil)
	_, _, err := a.GetReachableSet(context.Background(), initBox, 0.5)
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	a := newAnalyzer(t, propagate.IBP, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := a.GetReachableSet(ctx, initBox, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
