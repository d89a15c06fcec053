package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/unifilar/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracingConfig governs how tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | stderr | otlp
	Endpoint    string // used when Exporter == otlp
	SampleRatio float64

	// Workspace and Station identify the served diagram.
	Workspace string
	Station   string
}

// TracingConfigFromEnv pulls tracing configuration from environment variables,
// using sensible defaults when unset.
func TracingConfigFromEnv() TracingConfig {
	return TracingConfigFromEnvOver(TracingConfig{
		Exporter:    "stdout",
		ServiceName: DefaultServiceName,
		SampleRatio: 1,
	})
}

// TracingConfigFromEnvOver applies the UNIFILAR_TRACING_* variables on top
// of base, typically the tracing section of the config file.
func TracingConfigFromEnvOver(base TracingConfig) TracingConfig {
	cfg := base
	if v := os.Getenv("UNIFILAR_TRACING_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("UNIFILAR_TRACING_EXPORTER"); v != "" {
		cfg.Exporter = strings.ToLower(v)
	}
	if cfg.Exporter == "" {
		cfg.Exporter = "stdout"
	}
	if v := os.Getenv("UNIFILAR_TRACING_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if v := os.Getenv("UNIFILAR_OTLP_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if rawRatio := os.Getenv("UNIFILAR_TRACING_SAMPLE_RATIO"); rawRatio != "" {
		if parsed, err := strconv.ParseFloat(rawRatio, 64); err == nil && parsed >= 0 && parsed <= 1 {
			cfg.SampleRatio = parsed
		}
	}
	return cfg
}

// DefaultServiceName is the service.name resource attribute when none is set.
const DefaultServiceName = "unifilar"

// Tracer returns the tracer used for diagram spans.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/signalsfoundry/unifilar")
}

// InitTracing installs the global tracer provider and propagators described
// by cfg and returns the function that flushes pending spans. Disabled
// tracing installs a noop provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tp, err := newTracerProvider(ctx, cfg, sdktrace.WithBatcher(exp))
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// newTracerProvider builds a provider sampling cfg.SampleRatio of root
// spans, with the diagram key as resource attributes when set.
func newTracerProvider(ctx context.Context, cfg TracingConfig, processor sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "unifilar"),
	}
	if cfg.Workspace != "" {
		attrs = append(attrs, attribute.String("unifilar.workspace", cfg.Workspace))
	}
	if cfg.Station != "" {
		attrs = append(attrs, attribute.String("unifilar.station", cfg.Station))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
		processor,
	), nil
}

// exporterFromConfig picks the span exporter. stdout and stderr pretty-print
// spans; otlp ships them to a collector over insecure gRPC.
func exporterFromConfig(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
	case "stderr":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout invokes the provided shutdown function with a bounded
// timeout, swallowing errors in the shutdown path.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
