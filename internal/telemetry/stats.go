// Package telemetry aggregates particle activity into fixed simulation-time
// windows and writes one CSV row per window.
package telemetry

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for one window.
type WindowStats struct {
	WindowStart float64 `csv:"-"`
	WindowEnd   float64 `csv:"sim_time"`

	// Events during window
	Spawned         int `csv:"spawned"`
	Arrived         int `csv:"arrived"`
	DeadEnd         int `csv:"dead_end"`
	Stopped         int `csv:"stopped"`
	DroppedNoRoute  int `csv:"dropped_no_route"`
	DroppedCapacity int `csv:"dropped_capacity"`
	DroppedInactive int `csv:"dropped_inactive"`
	RouteRebuilds   int `csv:"route_rebuilds"`

	// Particles alive at window end
	Active int `csv:"active"`

	// Route length (cells) of particles spawned during the window
	RouteLenMean float64 `csv:"route_len_mean"`
	RouteLenStd  float64 `csv:"route_len_std"`
	RouteLenP50  float64 `csv:"route_len_p50"`
	RouteLenP90  float64 `csv:"route_len_p90"`

	// ArrivalRate is arrivals per second of window.
	ArrivalRate float64 `csv:"arrival_rate"`
}

// RouteLengthStats returns population mean, standard deviation and the
// empirical 50th and 90th percentiles. All are zero for no samples.
func RouteLengthStats(values []float64) (mean, std, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std = stat.PopMeanStdDev(sorted, nil)
	p50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	p90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	return mean, std, p50, p90
}
