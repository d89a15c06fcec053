package observability

import (
	"context"
	"testing"

	"github.com/signalsfoundry/unifilar/internal/logging"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("UNIFILAR_TRACING_ENABLED", "TRUE")
	t.Setenv("UNIFILAR_TRACING_EXPORTER", "OTLP")
	t.Setenv("UNIFILAR_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("UNIFILAR_TRACING_SAMPLE_RATIO", "0.25")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ServiceName != DefaultServiceName {
		t.Fatalf("ServiceName = %q", cfg.ServiceName)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("UNIFILAR_TRACING_SAMPLE_RATIO", "7")
	cfg := TracingConfigFromEnvOver(TracingConfig{SampleRatio: 0.5, ServiceName: "svc"})
	if cfg.SampleRatio != 0.5 || cfg.ServiceName != "svc" || cfg.Exporter != "stdout" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	_, span := Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a sampled span")
	}
	span.End()
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("InitTracing accepted an unknown exporter")
	}
}

func TestTracerProviderCarriesDiagramKey(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(context.Background(), TracingConfig{
		ServiceName: "svc",
		SampleRatio: 1,
		Workspace:   "ws1",
		Station:     "st1",
	}, sdktrace.WithSyncer(exp))
	if err != nil {
		t.Fatalf("newTracerProvider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "diagram.paint")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	got := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, want := range map[string]string{
		"service.name":       "svc",
		"unifilar.workspace": "ws1",
		"unifilar.station":   "st1",
	} {
		if got[k] != want {
			t.Errorf("resource %s = %q, want %q", k, got[k], want)
		}
	}
}

func TestTracerProviderSamplesNothingAtZeroRatio(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(context.Background(), TracingConfig{ServiceName: "svc"}, sdktrace.WithSyncer(exp))
	if err != nil {
		t.Fatalf("newTracerProvider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "diagram.paint")
	span.End()
	if n := len(exp.GetSpans()); n != 0 {
		t.Fatalf("exported %d spans at ratio 0", n)
	}
}
