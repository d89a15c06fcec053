package telemetry

import (
	"sync"
	"time"

	"github.com/signalsfoundry/unifilar/core"
)

// Collector accumulates simulator events within windows of simulation time
// and produces WindowStats. It satisfies state.SparkMetricsRecorder.
type Collector struct {
	window time.Duration

	mu      sync.Mutex
	elapsed time.Duration // since the start of the run
	start   time.Duration // start of the current window
	active  int

	spawned      int
	retired      map[core.RetireReason]int
	dropped      map[core.DropReason]int
	rebuilds     int
	routeLengths []float64
}

// NewCollector creates a collector that closes a window every window of
// simulation time. Non-positive windows fall back to five seconds.
func NewCollector(window time.Duration) *Collector {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Collector{
		window:  window,
		retired: make(map[core.RetireReason]int),
		dropped: make(map[core.DropReason]int),
	}
}

// Window returns the window length.
func (c *Collector) Window() time.Duration { return c.window }

// ParticleSpawned records a spawn and the length of its route.
func (c *Collector) ParticleSpawned(_ string, routeLen int) {
	c.mu.Lock()
	c.spawned++
	c.routeLengths = append(c.routeLengths, float64(routeLen))
	c.mu.Unlock()
}

// ParticleRetired records n retirements.
func (c *Collector) ParticleRetired(reason core.RetireReason, n int) {
	c.mu.Lock()
	c.retired[reason] += n
	c.mu.Unlock()
}

// EmissionDropped records an emission that produced no particle.
func (c *Collector) EmissionDropped(reason core.DropReason) {
	c.mu.Lock()
	c.dropped[reason]++
	c.mu.Unlock()
}

// SetActiveParticles records the live particle count.
func (c *Collector) SetActiveParticles(n int) {
	c.mu.Lock()
	c.active = n
	c.mu.Unlock()
}

// ObserveRouteComputation counts route index rebuilds.
func (c *Collector) ObserveRouteComputation(time.Duration) {
	c.mu.Lock()
	c.rebuilds++
	c.mu.Unlock()
}

// Advance moves simulation time forward by dt. When the current window is
// complete it returns its stats and starts the next one. A dt spanning
// several windows closes only one; the remainder counts towards the next.
func (c *Collector) Advance(dt time.Duration) (WindowStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dt > 0 {
		c.elapsed += dt
	}
	if c.elapsed-c.start < c.window {
		return WindowStats{}, false
	}
	return c.flushLocked(c.start + c.window), true
}

// Flush closes the current window early, e.g. at the end of a run. It
// reports false when nothing happened since the last window.
func (c *Collector) Flush() (WindowStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.elapsed == c.start && c.spawned == 0 && len(c.dropped) == 0 && len(c.retired) == 0 {
		return WindowStats{}, false
	}
	return c.flushLocked(c.elapsed), true
}

func (c *Collector) flushLocked(end time.Duration) WindowStats {
	mean, std, p50, p90 := RouteLengthStats(c.routeLengths)
	ws := WindowStats{
		WindowStart:     c.start.Seconds(),
		WindowEnd:       end.Seconds(),
		Spawned:         c.spawned,
		Arrived:         c.retired[core.RetireArrived],
		DeadEnd:         c.retired[core.RetireDeadEnd],
		Stopped:         c.retired[core.RetireStopped],
		DroppedNoRoute:  c.dropped[core.DropNoRoute],
		DroppedCapacity: c.dropped[core.DropCapacity],
		DroppedInactive: c.dropped[core.DropInactive],
		RouteRebuilds:   c.rebuilds,
		Active:          c.active,
		RouteLenMean:    mean,
		RouteLenStd:     std,
		RouteLenP50:     p50,
		RouteLenP90:     p90,
	}
	if span := end - c.start; span > 0 {
		ws.ArrivalRate = float64(ws.Arrived) / span.Seconds()
	}

	c.start = end
	c.spawned = 0
	c.rebuilds = 0
	c.routeLengths = c.routeLengths[:0]
	clear(c.retired)
	clear(c.dropped)
	return ws
}
