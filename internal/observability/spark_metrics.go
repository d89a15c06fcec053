package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/unifilar/core"
)

// SparkCollector exposes particle simulation metrics. It implements
// core.SimulatorObserver.
type SparkCollector struct {
	gatherer prometheus.Gatherer

	Spawned                 prometheus.Counter
	Retired                 *prometheus.CounterVec
	Dropped                 *prometheus.CounterVec
	Active                  prometheus.Gauge
	RouteLength             prometheus.Histogram
	RouteComputationSeconds prometheus.Histogram
}

var _ core.SimulatorObserver = (*SparkCollector)(nil)

// NewSparkCollector registers spark metrics against the provided registerer.
func NewSparkCollector(reg prometheus.Registerer) (*SparkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	spawned, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unifilar_particles_spawned_total",
		Help: "Cumulative number of particles spawned.",
	}), "unifilar_particles_spawned_total")
	if err != nil {
		return nil, err
	}
	retired, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unifilar_particles_retired_total",
		Help: "Cumulative number of particles retired, labeled by reason.",
	}, []string{"reason"}), "unifilar_particles_retired_total")
	if err != nil {
		return nil, err
	}
	dropped, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unifilar_emissions_dropped_total",
		Help: "Emissions that produced no particle, labeled by reason.",
	}, []string{"reason"}), "unifilar_emissions_dropped_total")
	if err != nil {
		return nil, err
	}
	active, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "unifilar_particles_active",
		Help: "Particles currently in flight.",
	}), "unifilar_particles_active")
	if err != nil {
		return nil, err
	}
	routeLen, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unifilar_particle_route_cells",
		Help:    "Route length in cells of spawned particles.",
		Buckets: prometheus.ExponentialBuckets(2, 2, 10),
	}), "unifilar_particle_route_cells")
	if err != nil {
		return nil, err
	}
	routeDur, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unifilar_route_computation_duration_seconds",
		Help:    "Duration of graph and route index rebuilds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}), "unifilar_route_computation_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SparkCollector{
		gatherer:                gatherer,
		Spawned:                 spawned,
		Retired:                 retired,
		Dropped:                 dropped,
		Active:                  active,
		RouteLength:             routeLen,
		RouteComputationSeconds: routeDur,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SparkCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ParticleSpawned implements core.SimulatorObserver.
func (c *SparkCollector) ParticleSpawned(_ string, routeLen int) {
	if c == nil {
		return
	}
	c.Spawned.Inc()
	c.RouteLength.Observe(float64(routeLen))
}

// ParticleRetired implements core.SimulatorObserver.
func (c *SparkCollector) ParticleRetired(reason core.RetireReason, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Retired.WithLabelValues(string(reason)).Add(float64(n))
}

// EmissionDropped implements core.SimulatorObserver.
func (c *SparkCollector) EmissionDropped(reason core.DropReason) {
	if c == nil {
		return
	}
	c.Dropped.WithLabelValues(string(reason)).Inc()
}

// SetActiveParticles updates the in-flight gauge.
func (c *SparkCollector) SetActiveParticles(n int) {
	if c == nil {
		return
	}
	c.Active.Set(float64(n))
}

// ObserveRouteComputation records a route index rebuild.
func (c *SparkCollector) ObserveRouteComputation(d time.Duration) {
	if c == nil {
		return
	}
	c.RouteComputationSeconds.Observe(d.Seconds())
}
