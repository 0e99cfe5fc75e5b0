// Package analyze drives the reachability loop: partition the current
// region, bound every cell through the closed-loop propagator, merge
// the cell outputs, repeat until the horizon. It also estimates the
// conservatism of the computed bounds against Monte-Carlo rollouts.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/reachlab/internal/dynamics"
	"github.com/san-kum/reachlab/internal/partition"
	"github.com/san-kum/reachlab/internal/propagate"
	"github.com/san-kum/reachlab/internal/region"
)

// StepUpdate is the per-timestep progress event delivered to an
// observer, if one is attached.
type StepUpdate struct {
	Step    int
	Steps   int
	Cells   int
	Widths  []float64
	Elapsed time.Duration
}

// StepInfo records how one timestep was computed.
type StepInfo struct {
	Step     int
	Cells    int
	Duration time.Duration
}

// Info summarizes a completed analysis.
type Info struct {
	Steps []StepInfo
	Total time.Duration
}

// Options tunes an Analyzer beyond its collaborators.
type Options struct {
	// Workers bounds the per-timestep cell fan-out. Zero means NumCPU.
	Workers int

	// Observer, when non-nil, receives a StepUpdate after each merged
	// timestep. Called from the analysis goroutine.
	Observer func(StepUpdate)

	Log *logrus.Logger
}

// Analyzer computes sound reachable sets for one system/policy pair.
type Analyzer struct {
	prop   propagate.Propagator
	part   partition.Partitioner
	sys    *dynamics.System
	policy dynamics.Policy
	opts   Options
}

// New wires an analyzer. The propagator must already be built for the
// same system and policy; the analyzer only needs them for sampling.
func New(prop propagate.Propagator, part partition.Partitioner, sys *dynamics.System, policy dynamics.Policy, opts Options) *Analyzer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Analyzer{prop: prop, part: part, sys: sys, policy: policy, opts: opts}
}

// GetReachableSet bounds the closed loop over the horizon, returning one
// region per timestep in order. Any cell failure aborts the whole
// timestep: a merged region missing a cell would no longer cover the
// true reachable set.
func (a *Analyzer) GetReachableSet(ctx context.Context, input region.Region, tMax float64) ([]region.Region, *Info, error) {
	steps := a.sys.Timesteps(tMax)
	if steps < 1 {
		return nil, nil, fmt.Errorf("horizon %g shorter than one step (dt=%g)", tMax, a.sys.Dt)
	}

	start := time.Now()
	info := &Info{Steps: make([]StepInfo, 0, steps)}
	out := make([]region.Region, 0, steps)
	current := input

	for t := 0; t < steps; t++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		stepStart := time.Now()

		cells, err := a.part.Partition(current)
		if err != nil {
			return nil, nil, err
		}
		results, err := a.propagateCells(ctx, t, cells)
		if err != nil {
			return nil, nil, err
		}
		merged, err := partition.Merge(results)
		if err != nil {
			return nil, nil, err
		}

		out = append(out, merged)
		current = merged
		si := StepInfo{Step: t, Cells: len(cells), Duration: time.Since(stepStart)}
		info.Steps = append(info.Steps, si)

		a.opts.Log.WithFields(logrus.Fields{
			"step":     t + 1,
			"steps":    steps,
			"cells":    si.Cells,
			"duration": si.Duration,
		}).Debug("timestep bounded")

		if a.opts.Observer != nil {
			a.opts.Observer(StepUpdate{
				Step:    t + 1,
				Steps:   steps,
				Cells:   si.Cells,
				Widths:  regionWidths(merged),
				Elapsed: time.Since(start),
			})
		}
	}

	info.Total = time.Since(start)
	return out, info, nil
}

// propagateCells bounds every cell concurrently under a bounded worker
// pool and returns the per-cell outputs in cell order. The first failed
// cell wins; remaining results are discarded.
func (a *Analyzer) propagateCells(ctx context.Context, step int, cells []region.Region) ([]region.Region, error) {
	results := make([]region.Region, len(cells))
	errs := make([]error, len(cells))

	sem := make(chan struct{}, a.opts.Workers)
	var wg sync.WaitGroup
	for i, cell := range cells {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, cell region.Region) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = a.prop.Propagate(ctx, cell)
		}(i, cell)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		var se propagate.SolverError
		if errors.As(err, &se) {
			se.Step = step
			se.Cell = i
			a.opts.Log.WithFields(logrus.Fields{
				"step": step,
				"cell": i,
			}).WithError(se.Err).Error("cell bound failed, aborting timestep")
			return nil, se
		}
		return nil, fmt.Errorf("step %d, cell %d: %w", step, i, err)
	}
	return results, nil
}

// EstimateError compares the computed bounds against sampled rollouts:
// per timestep, the relative hypervolume gap between the bounding box of
// the computed region and the empirical min/max box of the samples.
// Returns the gap at the final step and the average over all steps.
// Diagnostic only; the result never feeds back into the bounds.
func (a *Analyzer) EstimateError(ctx context.Context, input region.Region, bounds []region.Region, tMax float64, samples int, rng *rand.Rand) (final, avg float64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	ss, err := a.sys.SampleTrajectories(rng, input, a.policy, samples, tMax)
	if err != nil {
		return 0, 0, err
	}
	ranges := ss.Ranges()
	if len(ranges) != len(bounds) {
		return 0, 0, fmt.Errorf("sampled %d timesteps but bounds cover %d", len(ranges), len(bounds))
	}

	sum := 0.0
	for t := range bounds {
		bb, err := bounds[t].ToBox()
		if err != nil {
			return 0, 0, err
		}
		gap := volumeGap(bb, ranges[t])
		sum += gap
		if t == len(bounds)-1 {
			final = gap
		}
	}
	return final, sum / float64(len(bounds)), nil
}

// EstimateRuntime times repeated full analyses and reports the mean.
func (a *Analyzer) EstimateRuntime(ctx context.Context, input region.Region, tMax float64) (time.Duration, error) {
	const repeats = 5
	var total time.Duration
	for i := 0; i < repeats; i++ {
		start := time.Now()
		if _, _, err := a.GetReachableSet(ctx, input, tMax); err != nil {
			return 0, err
		}
		total += time.Since(start)
	}
	return total / repeats, nil
}

// volumeGap is (vol(bound) - vol(sample)) / vol(sample). Zero-width
// sample dimensions are widened by eps so a degenerate empirical box
// still yields a finite ratio.
func volumeGap(bound, sample region.Box) float64 {
	const eps = 1e-12
	vb := 1.0
	vs := 1.0
	for i := 0; i < sample.Dim(); i++ {
		vb *= math.Max(bound.Width(i), eps)
		vs *= math.Max(sample.Width(i), eps)
	}
	return (vb - vs) / vs
}

func regionWidths(r region.Region) []float64 {
	box, err := r.ToBox()
	if err != nil {
		return nil
	}
	w := make([]float64, box.Dim())
	for i := range w {
		w[i] = box.Width(i)
	}
	return w
}
