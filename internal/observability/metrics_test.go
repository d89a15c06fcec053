package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDiagramCollector(reg)
	if err != nil {
		t.Fatalf("NewDiagramCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/unifilar.v1.DiagramService/Paint"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("DiagramService", "Paint", "OK")); got != 1 {
		t.Fatalf("unifilar_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "unifilar_request_duration_seconds", map[string]string{
		"service": "DiagramService",
		"method":  "Paint",
	}); count != 1 {
		t.Fatalf("unifilar_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDiagramCollector(reg)
	if err != nil {
		t.Fatalf("NewDiagramCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/unifilar.v1.DiagramService/AddTerminal"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.FailedPrecondition, "cell not painted")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("DiagramService", "AddTerminal", "FailedPrecondition")); got != 1 {
		t.Fatalf("unifilar_requests_total error label = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesDiagramGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewDiagramCollector(reg)
	if err != nil {
		t.Fatalf("NewDiagramCollector: %v", err)
	}
	collector.SetDiagramCounts(37, 2, 3, 6)
	collector.SetRunning(true)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"unifilar_requests_total",
		"unifilar_request_duration_seconds",
		"unifilar_cells 37",
		`unifilar_terminals{kind="emitter"} 2`,
		`unifilar_terminals{kind="receptor"} 3`,
		"unifilar_routes 6",
		"unifilar_simulation_running 1",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestRegisterReusesExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewDiagramCollector(reg)
	if err != nil {
		t.Fatalf("NewDiagramCollector: %v", err)
	}
	second, err := NewDiagramCollector(reg)
	if err != nil {
		t.Fatalf("second NewDiagramCollector: %v", err)
	}
	if first.Cells != second.Cells || first.RPCRequests != second.RPCRequests {
		t.Fatalf("re-registration created new collectors")
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in, service, method string
	}{
		{"/unifilar.v1.DiagramService/GetFrame", "DiagramService", "GetFrame"},
		{"DiagramService/Start", "DiagramService", "Start"},
		{"", "unknown", "unknown"},
		{"/nomethod", "unknown", "unknown"},
	}
	for _, tt := range tests {
		s, m := SplitMethod(tt.in)
		if s != tt.service || m != tt.method {
			t.Errorf("SplitMethod(%q) = %q,%q want %q,%q", tt.in, s, m, tt.service, tt.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
