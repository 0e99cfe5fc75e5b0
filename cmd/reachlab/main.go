package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/reachlab/internal/analyze"
	"github.com/san-kum/reachlab/internal/config"
	"github.com/san-kum/reachlab/internal/dynamics"
	"github.com/san-kum/reachlab/internal/export"
	"github.com/san-kum/reachlab/internal/live"
	"github.com/san-kum/reachlab/internal/network"
	"github.com/san-kum/reachlab/internal/partition"
	"github.com/san-kum/reachlab/internal/propagate"
	"github.com/san-kum/reachlab/internal/region"
	"github.com/san-kum/reachlab/internal/sdp"
	"github.com/san-kum/reachlab/internal/storage"
)

var (
	dataDir        string
	verbose        bool
	outputFeedback bool
	partitioner    string
	partitions     string
	propagator     string
	solver         string
	boundaries     string
	facets         int
	tMax           float64
	initRange      string
	networkPath    string
	estimateRT     bool
	estimateErr    bool
	samples        int
	seed           int64
	workers        int
	save           bool
	liveView       bool
	configFile     string
	preset         string
	// Plot/export axes
	xDim   int
	yDim   int
	svgOut string
)

var (
	headingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reachlab",
		Short: "reachable set analysis for neural-network controlled systems",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".reachlab", "data directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [system]",
		Short: "compute reachable sets over the horizon",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().BoolVar(&outputFeedback, "output-feedback", false, "noisy observation and process model")
	analyzeCmd.Flags().StringVar(&partitioner, "partitioner", "uniform", "partitioner (none, uniform)")
	analyzeCmd.Flags().StringVar(&partitions, "partitions", "4,4", "per-dimension cell counts")
	analyzeCmd.Flags().StringVar(&propagator, "propagator", "ibp", "propagator (ibp, fastlin, crown, sdp)")
	analyzeCmd.Flags().StringVar(&solver, "solver", "admm", "sdp solver backend")
	analyzeCmd.Flags().StringVar(&boundaries, "boundaries", "box", "output boundaries (box, polytope)")
	analyzeCmd.Flags().IntVar(&facets, "facets", 0, "polytope facet count (0 = exact)")
	analyzeCmd.Flags().Float64Var(&tMax, "t-max", 0, "horizon in time units (0 = preset/default)")
	analyzeCmd.Flags().StringVar(&initRange, "init-state-range", "", "initial box, per-dim lo,hi pairs joined by ; (e.g. \"2.5,3.0;-0.25,0.25\")")
	analyzeCmd.Flags().StringVar(&networkPath, "network", "", "controller weights json (default: built-in policy)")
	analyzeCmd.Flags().BoolVar(&estimateRT, "estimate-runtime", false, "time 5 repeat analyses and report the mean")
	analyzeCmd.Flags().BoolVar(&estimateErr, "estimate-error", false, "compare bounds against sampled rollouts")
	analyzeCmd.Flags().IntVar(&samples, "samples", 0, "sample count for error estimation (0 = preset/default)")
	analyzeCmd.Flags().Int64Var(&seed, "seed", 0, "random seed for sampling")
	analyzeCmd.Flags().IntVar(&workers, "workers", 0, "parallel cells per timestep (0 = NumCPU)")
	analyzeCmd.Flags().BoolVar(&save, "save", false, "persist the run")
	analyzeCmd.Flags().BoolVar(&liveView, "live", false, "live progress view")
	analyzeCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	analyzeCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")

	sampleCmd := &cobra.Command{
		Use:   "sample [system]",
		Short: "roll out sampled trajectories and store them",
		Args:  cobra.ExactArgs(1),
		RunE:  runSample,
	}
	sampleCmd.Flags().BoolVar(&outputFeedback, "output-feedback", false, "noisy observation and process model")
	sampleCmd.Flags().Float64Var(&tMax, "t-max", 0, "horizon in time units")
	sampleCmd.Flags().StringVar(&initRange, "init-state-range", "", "initial box, per-dim lo,hi pairs joined by ;")
	sampleCmd.Flags().StringVar(&networkPath, "network", "", "controller weights json")
	sampleCmd.Flags().IntVar(&samples, "samples", 0, "trajectory count")
	sampleCmd.Flags().Int64Var(&seed, "seed", 0, "random seed")

	presetsCmd := &cobra.Command{
		Use:   "presets [system]",
		Short: "list built-in scenarios",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listScenarioPresets,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot per-timestep bound widths",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export reachable sets to SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().IntVar(&xDim, "x-dim", 0, "state index for x-axis")
	exportCmd.Flags().IntVar(&yDim, "y-dim", 1, "state index for y-axis")
	exportCmd.Flags().StringVar(&svgOut, "out", "", "output file (default: stdout)")

	rootCmd.AddCommand(analyzeCmd, sampleCmd, presetsCmd, listCmd, plotCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig merges preset, config file and flags into one validated
// config, with explicit flags winning.
func resolveConfig(cmd *cobra.Command, system string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		p := config.GetPreset(system, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(system))
		}
		cfg = p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	cfg.System = system

	if cmd.Flags().Changed("output-feedback") || (preset == "" && configFile == "") {
		cfg.StateFeedback = !outputFeedback
	}
	if cmd.Flags().Changed("partitioner") || (preset == "" && configFile == "") {
		cfg.Partitioner = partitioner
	}
	if cmd.Flags().Changed("partitions") || (preset == "" && configFile == "") {
		cells, err := parseCells(partitions)
		if err != nil {
			return nil, err
		}
		cfg.Partitions = cells
	}
	if cmd.Flags().Changed("propagator") || (preset == "" && configFile == "") {
		cfg.Propagator = propagator
	}
	if cmd.Flags().Changed("boundaries") {
		cfg.Boundaries = boundaries
	}
	if cmd.Flags().Changed("facets") {
		cfg.Facets = facets
	}
	if cmd.Flags().Changed("t-max") {
		cfg.TMax = tMax
	}
	if cmd.Flags().Changed("samples") {
		cfg.Samples = samples
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if initRange != "" {
		low, high, err := parseInitRange(initRange)
		if err != nil {
			return nil, err
		}
		cfg.InitState.Low = low
		cfg.InitState.High = high
	} else if system == "quadrotor" && preset == "" && configFile == "" {
		cfg.InitState.Low = []float64{4.65, 4.65, 2.95, 0.94, -0.01, -0.01}
		cfg.InitState.High = []float64{4.75, 4.75, 3.05, 0.96, 0.01, 0.01}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pipeline is everything analyze/sample need, wired from one config.
type pipeline struct {
	cfg      *config.Config
	sys      *dynamics.System
	policy   *network.Network
	analyzer *analyze.Analyzer
	init     region.Box
	log      *logrus.Logger
}

func buildPipeline(cfg *config.Config, observer func(analyze.StepUpdate)) (*pipeline, error) {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	sys, ok := dynamics.ByName(cfg.System, cfg.StateFeedback)
	if !ok {
		return nil, fmt.Errorf("unknown system %q", cfg.System)
	}

	var policy *network.Network
	var err error
	if networkPath != "" {
		policy, err = network.Load(networkPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load network: %w", err)
		}
	} else {
		switch cfg.System {
		case "quadrotor":
			policy = network.QuadrotorPolicy()
		default:
			policy = network.DoubleIntegratorPolicy()
		}
	}

	if solver != "admm" {
		return nil, region.UnsupportedCombinationError{What: fmt.Sprintf("sdp solver backend %q", solver)}
	}

	opts := propagate.Options{
		Solver: sdp.Options{
			MaxIter: cfg.Solver.MaxIter,
			Tol:     cfg.Solver.Tol,
			Rho:     cfg.Solver.Rho,
		},
		SolverTimeout: time.Duration(cfg.Solver.TimeoutSec * float64(time.Second)),
	}
	if cfg.Boundaries == "polytope" {
		template, err := facetTemplate(sys.StateDim(), cfg.Facets)
		if err != nil {
			return nil, err
		}
		opts.OutputTemplate = template
	}

	method, err := propagate.ParseMethod(cfg.Propagator)
	if err != nil {
		return nil, err
	}
	prop, err := propagate.New(method, policy, sys, opts)
	if err != nil {
		return nil, err
	}

	strategy, err := partition.ParseStrategy(cfg.Partitioner)
	if err != nil {
		return nil, err
	}
	var cells []int
	if strategy == partition.Uniform {
		cells = cfg.Partitions
	}
	part, err := partition.New(strategy, cells)
	if err != nil {
		return nil, err
	}

	init, err := region.NewBox(cfg.InitState.Low, cfg.InitState.High)
	if err != nil {
		return nil, err
	}
	if init.Dim() != sys.StateDim() {
		return nil, fmt.Errorf("init range has %d dims, system has %d", init.Dim(), sys.StateDim())
	}

	analyzer := analyze.New(prop, part, sys, policy, analyze.Options{
		Workers:  cfg.Workers,
		Observer: observer,
		Log:      log,
	})
	return &pipeline{cfg: cfg, sys: sys, policy: policy, analyzer: analyzer, init: init, log: log}, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}

	var updates chan analyze.StepUpdate
	var observer func(analyze.StepUpdate)
	if liveView && !estimateRT {
		updates = make(chan analyze.StepUpdate, 64)
		observer = func(u analyze.StepUpdate) { updates <- u }
	}

	p, err := buildPipeline(cfg, observer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if estimateRT {
		mean, err := p.analyzer.EstimateRuntime(ctx, p.init, cfg.TMax)
		if err != nil {
			return err
		}
		fmt.Printf("mean runtime over 5 runs: %v\n", mean)
		return nil
	}

	var bounds []region.Region
	var info *analyze.Info
	start := time.Now()

	if liveView {
		done := make(chan error, 1)
		go func() {
			var runErr error
			bounds, info, runErr = p.analyzer.GetReachableSet(ctx, p.init, cfg.TMax)
			close(updates)
			done <- runErr
		}()
		title := fmt.Sprintf("%s / %s / %s", cfg.System, cfg.Propagator, cfg.Partitioner)
		if err := live.Run(title, updates, done); err != nil {
			cancel()
			return err
		}
	} else {
		fmt.Printf("analyzing %s (%s, %s)...\n", cfg.System, cfg.Propagator, cfg.Partitioner)
		bounds, info, err = p.analyzer.GetReachableSet(ctx, p.init, cfg.TMax)
		if err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	boxes, err := toBoxes(bounds)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v (%d timesteps, %d cells/step)\n\n", elapsed, len(bounds), info.Steps[0].Cells)
	printBounds(boxes, p.sys.Dt)

	meta := storage.RunMetadata{
		System:      cfg.System,
		Propagator:  cfg.Propagator,
		Partitioner: cfg.Partitioner,
		Partitions:  cfg.Partitions,
		Boundaries:  cfg.Boundaries,
		TMax:        cfg.TMax,
		Dt:          p.sys.Dt,
		Seed:        cfg.Seed,
		RuntimeSec:  elapsed.Seconds(),
	}

	var ss *dynamics.SampleSet
	if estimateErr {
		rng := rand.New(rand.NewSource(cfg.Seed))
		final, avg, err := p.analyzer.EstimateError(ctx, p.init, bounds, cfg.TMax, cfg.Samples, rng)
		if err != nil {
			return err
		}
		fmt.Printf("\nerror estimate (%d samples): final %.4f, average %.4f\n", cfg.Samples, final, avg)
		meta.FinalError = final
		meta.AvgError = avg
		meta.Samples = cfg.Samples

		rng = rand.New(rand.NewSource(cfg.Seed))
		ss, err = p.sys.SampleTrajectories(rng, p.init, p.policy, cfg.Samples, cfg.TMax)
		if err != nil {
			return err
		}
	}

	if save {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(meta, boxes, ss)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}

	return nil
}

func runSample(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg, nil)
	if err != nil {
		return err
	}

	fmt.Printf("sampling %d trajectories of %s...\n", cfg.Samples, cfg.System)
	rng := rand.New(rand.NewSource(cfg.Seed))
	ss, err := p.sys.SampleTrajectories(rng, p.init, p.policy, cfg.Samples, cfg.TMax)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	meta := storage.RunMetadata{
		System:  cfg.System,
		TMax:    cfg.TMax,
		Dt:      p.sys.Dt,
		Seed:    cfg.Seed,
		Samples: cfg.Samples,
	}
	runID, err := st.Save(meta, ss.Ranges(), ss)
	if err != nil {
		return err
	}

	fmt.Printf("stored %d runs x %d timesteps\n", ss.Runs(), ss.Steps())
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func listScenarioPresets(cmd *cobra.Command, args []string) error {
	systems := []string{"double_integrator", "quadrotor"}
	if len(args) == 1 {
		systems = args[:1]
	}
	for _, system := range systems {
		names := config.ListPresets(system)
		if len(names) == 0 {
			fmt.Printf("no presets for system: %s\n", system)
			continue
		}
		fmt.Println(headingStyle.Render(system))
		for _, name := range names {
			cfg := config.GetPreset(system, name)
			fmt.Printf("  %-10s %s\n", name,
				dimStyle.Render(fmt.Sprintf("%s / %s, t_max=%g", cfg.Propagator, cfg.Partitioner, cfg.TMax)))
		}
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYSTEM\tTIME\tPROP\tPART\tT_MAX\tFINAL_ERR\tRUNTIME")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f\t%.4f\t%.2fs\n",
			run.ID,
			run.System,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Propagator,
			run.Partitioner,
			run.TMax,
			run.FinalError,
			run.RuntimeSec,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	bounds, _, err := st.LoadBounds(runID)
	if err != nil {
		return err
	}
	if len(bounds) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("system: %s (%s)\n\n", meta.System, meta.Propagator)

	dims := bounds[0].Dim()
	if dims > 6 {
		dims = 6
	}
	for d := 0; d < dims; d++ {
		widths := make([]float64, len(bounds))
		for t := range bounds {
			widths[t] = bounds[t].Width(d)
		}
		graph := asciigraph.Plot(widths,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("bound width x%d vs timestep", d)),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	bounds, _, err := st.LoadBounds(runID)
	if err != nil {
		return err
	}
	if len(bounds) == 0 {
		return fmt.Errorf("no data to export")
	}
	if bounds[0].Dim() <= xDim || bounds[0].Dim() <= yDim {
		return fmt.Errorf("state dimension too small for selected axes")
	}

	sampleRuns, err := st.LoadSamples(runID)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	// The stored bounds start at t=1; reconstruct the initial box from
	// the sample scatter when present, otherwise reuse the first bound.
	initial := bounds[0]
	if len(sampleRuns) > 0 && len(sampleRuns[0]) > 0 {
		initial = initialFromSamples(sampleRuns)
	}

	svg := export.ReachableSetSVG(export.Plot{
		Initial: initial,
		Bounds:  bounds,
		Samples: sampleRuns,
		XDim:    xDim,
		YDim:    yDim,
	})

	if svgOut == "" {
		fmt.Println(svg)
		return nil
	}
	if err := os.WriteFile(svgOut, []byte(svg), 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", svgOut)
	return nil
}

func initialFromSamples(runs [][][]float64) region.Box {
	dim := len(runs[0][0])
	low := make([]float64, dim)
	high := make([]float64, dim)
	for j := 0; j < dim; j++ {
		low[j] = math.Inf(1)
		high[j] = math.Inf(-1)
	}
	for _, run := range runs {
		if len(run) == 0 {
			continue
		}
		for j, v := range run[0] {
			low[j] = math.Min(low[j], v)
			high[j] = math.Max(high[j], v)
		}
	}
	return region.Box{Low: low, High: high, P: math.Inf(1)}
}

func printBounds(boxes []region.Box, dt float64) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := "T"
	for d := 0; d < boxes[0].Dim(); d++ {
		header += fmt.Sprintf("\tx%d", d)
	}
	fmt.Fprintln(w, header)
	for t, b := range boxes {
		row := fmt.Sprintf("%.2f", float64(t+1)*dt)
		for d := 0; d < b.Dim(); d++ {
			row += fmt.Sprintf("\t[%.4f, %.4f]", b.Low[d], b.High[d])
		}
		fmt.Fprintln(w, row)
	}
	w.Flush()
}

func toBoxes(bounds []region.Region) ([]region.Box, error) {
	boxes := make([]region.Box, len(bounds))
	for i, r := range bounds {
		b, err := r.ToBox()
		if err != nil {
			return nil, err
		}
		boxes[i] = b
	}
	return boxes, nil
}

// facetTemplate builds the polytope facet-normal matrix for the output
// boundaries: exact axis-aligned facets, or a regular template in 2D.
func facetTemplate(stateDim, facets int) (*mat.Dense, error) {
	unit := region.MustBox(make([]float64, stateDim), ones(stateDim))
	poly, err := unit.ToPolytope(facets)
	if err != nil {
		return nil, err
	}
	return poly.A, nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func parseCells(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	cells := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad partition count %q", p)
		}
		cells = append(cells, n)
	}
	return cells, nil
}

func parseInitRange(s string) ([]float64, []float64, error) {
	dims := strings.Split(s, ";")
	low := make([]float64, 0, len(dims))
	high := make([]float64, 0, len(dims))
	for _, d := range dims {
		pair := strings.Split(strings.TrimSpace(d), ",")
		if len(pair) != 2 {
			return nil, nil, fmt.Errorf("bad init range segment %q (want lo,hi)", d)
		}
		lo, err := strconv.ParseFloat(strings.TrimSpace(pair[0]), 64)
		if err != nil {
			return nil, nil, err
		}
		hi, err := strconv.ParseFloat(strings.TrimSpace(pair[1]), 64)
		if err != nil {
			return nil, nil, err
		}
		low = append(low, lo)
		high = append(high, hi)
	}
	return low, high, nil
}
