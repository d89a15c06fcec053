package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/unifilar/config"
	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/internal/logging"
	sim "github.com/signalsfoundry/unifilar/internal/sim/state"
	"github.com/signalsfoundry/unifilar/internal/telemetry"
	"github.com/signalsfoundry/unifilar/model"
	"github.com/signalsfoundry/unifilar/timectrl"
)

func main() {
	configPath := flag.String("config", "", "YAML config file merged over the built-in defaults")
	diagramPath := flag.String("diagram", "", "diagram JSON document to simulate (stored or exported form)")
	duration := flag.Duration("duration", 60*time.Second, "total simulated time")
	tick := flag.Duration("tick", 16*time.Millisecond, "frame step")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	outDir := flag.String("out", "", "telemetry output directory (overrides telemetry.output_dir)")
	flag.Parse()

	if *diagramPath == "" {
		fmt.Fprintln(os.Stderr, "usage: simulator -diagram diagram.json [-duration 60s] [-out dir]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Telemetry.OutputDir = *outDir
	}

	data, err := os.ReadFile(*diagramPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading diagram: %v\n", err)
		os.Exit(1)
	}

	mode := timectrl.RealTime
	if *accelerated {
		mode = timectrl.Accelerated
	}
	// Logs go to stderr; stdout carries the report.
	log := logging.New(logging.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		Output: os.Stderr,
	})
	opts := runOptions{Start: time.Unix(0, 0).UTC(), Duration: *duration, Tick: *tick, Mode: mode}
	if _, err := simulate(context.Background(), cfg, data, opts, log, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	Start    time.Time
	Duration time.Duration
	Tick     time.Duration
	Mode     timectrl.Mode
}

// summary totals every telemetry window of a run.
type summary struct {
	Windows int
	Spawned int
	Arrived int
	DeadEnd int
	Dropped int
	Routes  int
	Active  int // at the end of the last window
}

func (s *summary) add(ws telemetry.WindowStats) {
	s.Windows++
	s.Spawned += ws.Spawned
	s.Arrived += ws.Arrived
	s.DeadEnd += ws.DeadEnd
	s.Dropped += ws.DroppedNoRoute + ws.DroppedCapacity + ws.DroppedInactive
	s.Active = ws.Active
}

// simulate imports data, prints the route table, runs the particle
// simulation for opts.Duration and writes telemetry when configured. The
// diagram clock only moves with simulated time, so the exported document is
// stamped with opts.Start plus the simulated duration.
func simulate(ctx context.Context, cfg *config.Config, data []byte, opts runOptions, log logging.Logger, w io.Writer) (summary, error) {
	var sum summary
	clock := timectrl.NewManualClock(opts.Start)

	out, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		return sum, err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		return sum, err
	}

	windows := telemetry.NewCollector(cfg.Telemetry.Window)
	state := sim.NewDiagramState(log,
		sim.WithSparkMetrics(windows),
		sim.WithSparkConfig(cfg.SparkConfig()),
		sim.WithBranchMode(cfg.BranchMode()),
		sim.WithRNG(core.NewSeededRNG(cfg.Simulation.Seed)),
		sim.WithClock(clock.Now),
	)
	if err := state.Import(ctx, data); err != nil {
		return sum, err
	}

	routes := state.Routes()
	sum.Routes = len(routes)
	printRoutes(w, routes)
	if err := out.WriteRoutes(routes); err != nil {
		return sum, err
	}

	if err := state.Start(ctx); err != nil {
		return sum, err
	}

	var writeErr error
	record := func(ws telemetry.WindowStats) {
		sum.add(ws)
		fmt.Fprintf(w, "[t=%6.1fs] spawned=%-4d arrived=%-4d dead_end=%-4d dropped=%-4d active=%-4d route_len=%.1f\n",
			ws.WindowEnd, ws.Spawned, ws.Arrived, ws.DeadEnd,
			ws.DroppedNoRoute+ws.DroppedCapacity+ws.DroppedInactive, ws.Active, ws.RouteLenMean)
		if err := out.WriteWindow(ws); err != nil && writeErr == nil {
			writeErr = err
		}
	}

	tc := timectrl.NewTimeController(opts.Start, opts.Tick, opts.Mode)
	tc.AddListener(func(_ time.Time, dt time.Duration) {
		clock.Advance(dt)
		state.Step(dt)
		if ws, ok := windows.Advance(dt); ok {
			record(ws)
		}
	})

	fmt.Fprintf(w, "Starting simulation: duration=%s, tick=%s, mode=%v\n", opts.Duration, opts.Tick, opts.Mode)
	<-tc.Start(opts.Duration)
	state.Stop(ctx)
	if ws, ok := windows.Flush(); ok {
		record(ws)
	}
	doc, err := state.Export(ctx)
	if err != nil {
		return sum, err
	}
	if err := out.WriteDiagram(doc); err != nil && writeErr == nil {
		writeErr = err
	}
	fmt.Fprintf(w, "Simulation complete: %d spawned, %d arrived, %d dead ends, %d dropped.\n",
		sum.Spawned, sum.Arrived, sum.DeadEnd, sum.Dropped)
	return sum, writeErr
}

func printRoutes(w io.Writer, routes []model.Route) {
	fmt.Fprintf(w, "Loaded %d routes\n", len(routes))
	for _, r := range routes {
		start, end := r.Cells[0], r.Cells[len(r.Cells)-1]
		fmt.Fprintf(w, "↳ Route %-12s → %-12s cells=%-4d %v → %v\n",
			r.EmitterID, r.ReceptorID, r.Len(), start, end)
	}
}
