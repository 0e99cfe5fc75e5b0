package config

var Presets = map[string]map[string]*Config{
	"double_integrator": {
		"default": {
			System: "double_integrator", StateFeedback: true,
			Partitioner: "uniform", Partitions: []int{4, 4},
			Propagator: "ibp", Boundaries: "box",
			TMax: 5, Samples: 1000,
			InitState: InitConfig{Low: []float64{2.5, -0.25}, High: []float64{3.0, 0.25}},
		},
		"crown": {
			System: "double_integrator", StateFeedback: true,
			Partitioner: "uniform", Partitions: []int{4, 4},
			Propagator: "crown", Boundaries: "box",
			TMax: 5, Samples: 1000,
			InitState: InitConfig{Low: []float64{2.5, -0.25}, High: []float64{3.0, 0.25}},
		},
		"polytope": {
			System: "double_integrator", StateFeedback: true,
			Partitioner: "uniform", Partitions: []int{4, 4},
			Propagator: "crown", Boundaries: "polytope", Facets: 8,
			TMax: 5, Samples: 1000,
			InitState: InitConfig{Low: []float64{2.5, -0.25}, High: []float64{3.0, 0.25}},
		},
		"sdp": {
			System: "double_integrator", StateFeedback: true,
			Partitioner: "none",
			Propagator:  "sdp", Boundaries: "box",
			TMax: 2, Samples: 500,
			InitState: InitConfig{Low: []float64{2.5, -0.25}, High: []float64{3.0, 0.25}},
		},
		"noisy": {
			System: "double_integrator", StateFeedback: false,
			Partitioner: "uniform", Partitions: []int{4, 4},
			Propagator: "crown", Boundaries: "box",
			TMax: 5, Samples: 1000,
			InitState: InitConfig{Low: []float64{2.5, -0.25}, High: []float64{3.0, 0.25}},
		},
	},
	"quadrotor": {
		"hover": {
			System: "quadrotor", StateFeedback: true,
			Partitioner: "none",
			Propagator:  "ibp", Boundaries: "box",
			TMax: 1.2, Samples: 500,
			InitState: InitConfig{
				Low:  []float64{4.65, 4.65, 2.95, 0.94, -0.01, -0.01},
				High: []float64{4.75, 4.75, 3.05, 0.96, 0.01, 0.01},
			},
		},
		"crown": {
			System: "quadrotor", StateFeedback: true,
			Partitioner: "uniform", Partitions: []int{2, 2, 2, 1, 1, 1},
			Propagator: "crown", Boundaries: "box",
			TMax: 1.2, Samples: 500,
			InitState: InitConfig{
				Low:  []float64{4.65, 4.65, 2.95, 0.94, -0.01, -0.01},
				High: []float64{4.75, 4.75, 3.05, 0.96, 0.01, 0.01},
			},
		},
		"noisy": {
			System: "quadrotor", StateFeedback: false,
			Partitioner: "none",
			Propagator:  "ibp", Boundaries: "box",
			TMax: 1.2, Samples: 500,
			InitState: InitConfig{
				Low:  []float64{4.65, 4.65, 2.95, 0.94, -0.01, -0.01},
				High: []float64{4.75, 4.75, 3.05, 0.96, 0.01, 0.01},
			},
		},
	},
}

// GetPreset returns a copy of the named preset with solver defaults
// filled in, or nil if it does not exist.
func GetPreset(system, preset string) *Config {
	systemPresets, ok := Presets[system]
	if !ok {
		return nil
	}
	cfg, ok := systemPresets[preset]
	if !ok {
		return nil
	}
	out := *cfg
	out.fillSolverDefaults()
	return &out
}

func ListPresets(system string) []string {
	systemPresets, ok := Presets[system]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(systemPresets))
	for name := range systemPresets {
		names = append(names, name)
	}
	return names
}
