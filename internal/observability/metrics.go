package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// DiagramCollector bundles the Prometheus metrics for the diagram service:
// RPC counters plus gauges mirroring the size of the live diagram. It also
// provides helpers to wire them into gRPC servers and HTTP handlers.
type DiagramCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Cells     prometheus.Gauge
	Terminals *prometheus.GaugeVec
	Routes    prometheus.Gauge
	Running   prometheus.Gauge
}

// NewDiagramCollector registers the diagram metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewDiagramCollector(reg prometheus.Registerer) (*DiagramCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "unifilar_requests_total",
		Help: "Total number of handled diagram RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "unifilar_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unifilar_request_duration_seconds",
		Help:    "Diagram RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "unifilar_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	cells, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "unifilar_cells",
		Help: "Current number of painted cells.",
	}), "unifilar_cells")
	if err != nil {
		return nil, err
	}
	terminals, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "unifilar_terminals",
		Help: "Current number of terminals, labeled by kind.",
	}, []string{"kind"}), "unifilar_terminals")
	if err != nil {
		return nil, err
	}
	routes, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "unifilar_routes",
		Help: "Number of emitter to receptor routes in the current route index.",
	}), "unifilar_routes")
	if err != nil {
		return nil, err
	}
	running, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "unifilar_simulation_running",
		Help: "1 while the spark simulation is running, 0 otherwise.",
	}), "unifilar_simulation_running")
	if err != nil {
		return nil, err
	}

	return &DiagramCollector{
		gatherer:     gatherer,
		RPCRequests:  requests,
		RPCDurations: durations,
		Cells:        cells,
		Terminals:    terminals,
		Routes:       routes,
		Running:      running,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *DiagramCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *DiagramCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetDiagramCounts satisfies the state metrics recorder so DiagramState can
// drive the gauges directly from its mutators.
func (c *DiagramCollector) SetDiagramCounts(cells, emitters, receptors, routes int) {
	if c == nil {
		return
	}
	if c.Cells != nil {
		c.Cells.Set(float64(cells))
	}
	if c.Terminals != nil {
		c.Terminals.WithLabelValues("emitter").Set(float64(emitters))
		c.Terminals.WithLabelValues("receptor").Set(float64(receptors))
	}
	if c.Routes != nil {
		c.Routes.Set(float64(routes))
	}
}

// SetRunning flips the running gauge.
func (c *DiagramCollector) SetRunning(running bool) {
	if c == nil || c.Running == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	c.Running.Set(v)
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds c to reg, returning the already registered collector of the
// same type when an identical one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		var zero T
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return zero, err
	}
	return c, nil
}
