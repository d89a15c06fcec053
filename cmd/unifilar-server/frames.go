package main

import (
	"context"
	"time"

	"github.com/signalsfoundry/unifilar/internal/logging"
	sim "github.com/signalsfoundry/unifilar/internal/sim/state"
	"github.com/signalsfoundry/unifilar/internal/telemetry"
)

// frameSink receives rendered frames. *stream.Hub satisfies it.
type frameSink interface {
	BroadcastJSON(v any) error
	Len() int
}

// newFrameStep returns the per-frame callback: advance the simulation,
// close telemetry windows and push a frame to subscribers. Idle frames are
// only pushed when the render version moved: topology, line width or spark
// settings.
func newFrameStep(state *sim.DiagramState, windows *telemetry.Collector, out *telemetry.OutputManager, sink frameSink, log logging.Logger) func(dt time.Duration) {
	log = logging.OrNoop(log)
	var (
		lastVersion uint64
		sentIdle    bool
	)
	return func(dt time.Duration) {
		ctx := context.Background()
		running := state.Running()
		if running {
			state.Step(dt)
			if ws, ok := windows.Advance(dt); ok {
				if err := out.WriteWindow(ws); err != nil {
					log.Warn(ctx, "failed to write telemetry window", logging.Err(err))
				}
			}
		}

		if sink == nil || sink.Len() == 0 {
			return
		}
		version := state.RenderVersion()
		if !running && sentIdle && version == lastVersion {
			return
		}
		if err := sink.BroadcastJSON(state.Frame()); err != nil {
			log.Warn(ctx, "failed to broadcast frame", logging.Err(err))
			return
		}
		lastVersion = version
		sentIdle = !running
	}
}
