package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTMax    = 5.0
	DefaultSamples = 1000
	DefaultFacets  = 8
	DefaultSeed    = 0

	DefaultSolverMaxIter    = 20000
	DefaultSolverTol        = 1e-6
	DefaultSolverRho        = 1.0
	DefaultSolverTimeoutSec = 30.0
)

type Config struct {
	System        string       `yaml:"system"`
	StateFeedback bool         `yaml:"state_feedback"`
	Partitioner   string       `yaml:"partitioner"`
	Partitions    []int        `yaml:"partitions"`
	Propagator    string       `yaml:"propagator"`
	Boundaries    string       `yaml:"boundaries"`
	Facets        int          `yaml:"facets"`
	TMax          float64      `yaml:"t_max"`
	Seed          int64        `yaml:"seed"`
	Samples       int          `yaml:"samples"`
	Workers       int          `yaml:"workers"`
	InitState     InitConfig   `yaml:"init_state"`
	Solver        SolverConfig `yaml:"solver"`
}

type InitConfig struct {
	Low  []float64 `yaml:"low"`
	High []float64 `yaml:"high"`
}

type SolverConfig struct {
	MaxIter    int     `yaml:"max_iter"`
	Tol        float64 `yaml:"tol"`
	Rho        float64 `yaml:"rho"`
	TimeoutSec float64 `yaml:"timeout_sec"`
}

func DefaultConfig() *Config {
	return &Config{
		System:        "double_integrator",
		StateFeedback: true,
		Partitioner:   "uniform",
		Partitions:    []int{4, 4},
		Propagator:    "ibp",
		Boundaries:    "box",
		Facets:        DefaultFacets,
		TMax:          DefaultTMax,
		Seed:          DefaultSeed,
		Samples:       DefaultSamples,
		InitState: InitConfig{
			Low:  []float64{2.5, -0.25},
			High: []float64{3.0, 0.25},
		},
		Solver: SolverConfig{
			MaxIter:    DefaultSolverMaxIter,
			Tol:        DefaultSolverTol,
			Rho:        DefaultSolverRho,
			TimeoutSec: DefaultSolverTimeoutSec,
		},
	}
}

func (c *Config) fillSolverDefaults() {
	if c.Solver.MaxIter == 0 {
		c.Solver.MaxIter = DefaultSolverMaxIter
	}
	if c.Solver.Tol == 0 {
		c.Solver.Tol = DefaultSolverTol
	}
	if c.Solver.Rho == 0 {
		c.Solver.Rho = DefaultSolverRho
	}
	if c.Solver.TimeoutSec == 0 {
		c.Solver.TimeoutSec = DefaultSolverTimeoutSec
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations the pipeline cannot run, before any
// analysis work starts.
func (c *Config) Validate() error {
	switch c.System {
	case "double_integrator", "quadrotor":
	default:
		return fmt.Errorf("unknown system %q", c.System)
	}
	switch c.Partitioner {
	case "none":
	case "uniform":
		if len(c.Partitions) == 0 {
			return fmt.Errorf("uniform partitioner needs partitions")
		}
		for i, p := range c.Partitions {
			if p < 1 {
				return fmt.Errorf("partitions[%d] = %d, must be positive", i, p)
			}
		}
	default:
		return fmt.Errorf("unknown partitioner %q", c.Partitioner)
	}
	switch c.Propagator {
	case "ibp", "fastlin", "crown", "sdp":
	default:
		return fmt.Errorf("unknown propagator %q", c.Propagator)
	}
	switch c.Boundaries {
	case "box":
	case "polytope":
		if c.Facets < 3 && c.Facets != 0 {
			return fmt.Errorf("facets = %d, need 0 (exact) or at least 3", c.Facets)
		}
	default:
		return fmt.Errorf("unknown boundaries %q", c.Boundaries)
	}
	if c.TMax <= 0 {
		return fmt.Errorf("t_max = %g, must be positive", c.TMax)
	}
	if c.Samples < 1 {
		return fmt.Errorf("samples = %d, must be positive", c.Samples)
	}
	if len(c.InitState.Low) == 0 || len(c.InitState.Low) != len(c.InitState.High) {
		return fmt.Errorf("init_state low/high lengths %d/%d invalid", len(c.InitState.Low), len(c.InitState.High))
	}
	for i := range c.InitState.Low {
		if c.InitState.Low[i] > c.InitState.High[i] {
			return fmt.Errorf("init_state low[%d] = %g exceeds high[%d] = %g", i, c.InitState.Low[i], i, c.InitState.High[i])
		}
	}
	if c.Solver.MaxIter < 1 {
		return fmt.Errorf("solver max_iter = %d, must be positive", c.Solver.MaxIter)
	}
	if c.Solver.Tol <= 0 {
		return fmt.Errorf("solver tol = %g, must be positive", c.Solver.Tol)
	}
	return nil
}
