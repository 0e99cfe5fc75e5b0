package storage

import (
	"math/rand"
	"testing"

	"github.com/san-kum/reachlab/internal/dynamics"
	"github.com/san-kum/reachlab/internal/network"
	"github.com/san-kum/reachlab/internal/region"
)

func testBounds() []region.Box {
	return []region.Box{
		region.MustBox([]float64{1.4, -1.9}, []float64{2.95, -0.4}),
		region.MustBox([]float64{0.1, -2.4}, []float64{2.0, -0.9}),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	meta := RunMetadata{
		System:      "double_integrator",
		Propagator:  "ibp",
		Partitioner: "uniform",
		Partitions:  []int{4, 4},
		Boundaries:  "box",
		TMax:        2,
		Dt:          1,
		Seed:        7,
	}
	runID, err := s.Save(meta, testBounds(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if runID == "" {
		t.Fatal("expected non-empty run ID")
	}

	loaded, err := s.Load(runID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.System != "double_integrator" || loaded.Propagator != "ibp" {
		t.Errorf("metadata did not round-trip: %+v", loaded)
	}
	if loaded.ID != runID {
		t.Errorf("expected ID %s, got %s", runID, loaded.ID)
	}

	bounds, times, err := s.LoadBounds(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(bounds) != 2 || len(times) != 2 {
		t.Fatalf("expected 2 bounds and times, got %d/%d", len(bounds), len(times))
	}
	want := testBounds()
	for i := range bounds {
		for d := 0; d < 2; d++ {
			if bounds[i].Low[d] != want[i].Low[d] || bounds[i].High[d] != want[i].High[d] {
				t.Errorf("bounds[%d] = %+v, want %+v", i, bounds[i], want[i])
			}
		}
	}
	if times[0] != 1 || times[1] != 2 {
		t.Errorf("expected times [1 2], got %v", times)
	}
}

func TestSaveWithSamples(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	sys := dynamics.DoubleIntegrator()
	rng := rand.New(rand.NewSource(3))
	init := region.MustBox([]float64{2.5, -0.25}, []float64{3.0, 0.25})
	ss, err := sys.SampleTrajectories(rng, init, network.DoubleIntegratorPolicy(), 5, 2)
	if err != nil {
		t.Fatal(err)
	}

	runID, err := s.Save(RunMetadata{System: "double_integrator", Dt: 1}, testBounds(), ss)
	if err != nil {
		t.Fatal(err)
	}

	runs, err := s.LoadSamples(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 5 {
		t.Fatalf("expected 5 runs, got %d", len(runs))
	}
	if len(runs[0]) != ss.Steps() {
		t.Errorf("expected %d timesteps per run, got %d", ss.Steps(), len(runs[0]))
	}
	if len(runs[0][0]) != 2 {
		t.Errorf("expected 2 state dims, got %d", len(runs[0][0]))
	}
}

func TestList(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	runs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty store, got %d runs", len(runs))
	}

	if _, err := s.Save(RunMetadata{System: "quadrotor", Dt: 0.1}, testBounds(), nil); err != nil {
		t.Fatal(err)
	}
	runs, err = s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].System != "quadrotor" {
		t.Errorf("expected system quadrotor, got %s", runs[0].System)
	}
}

func TestListMissingBaseDir(t *testing.T) {
	s := New("/nonexistent/reachlab-test")
	runs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}
