package nbi

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/unifilar/internal/logging"
	"github.com/signalsfoundry/unifilar/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const tracerName = "github.com/signalsfoundry/unifilar/internal/nbi"

// TracingUnaryServerInterceptor names the RPC span Diagram/<service>/<method>
// and tags it with the request id, the grid coordinates and terminal id found
// in the request, and the resulting status code. It starts its own server
// span when the otelgrpc stats handler is not installed.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		spanName := fmt.Sprintf("Diagram/%s/%s", service, method)

		span := trace.SpanFromContext(ctx)
		owned := !span.SpanContext().IsValid()
		if owned {
			ctx, span = tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(spanName)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		}
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			attrs = append(attrs, attribute.String("request_id", reqID))
		}
		if in, ok := req.(*structpb.Struct); ok {
			attrs = append(attrs, requestAttributes(in)...)
		}
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		code := status.Code(err)
		span.SetAttributes(attribute.String("rpc.grpc.status", code.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, code.String())
		}
		return resp, err
	}
}

// requestAttributes picks the coordinate, kind and id fields out of a
// request. Keys are sorted so attribute order is stable.
func requestAttributes(in *structpb.Struct) []attribute.KeyValue {
	fields := in.GetFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var attrs []attribute.KeyValue
	for _, k := range keys {
		v := fields[k]
		switch k {
		case "x", "y", "toX", "toY", "x1", "y1", "x2", "y2", "dx", "dy":
			if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
				attrs = append(attrs, attribute.Int("diagram."+k, int(n.NumberValue)))
			}
		case "id":
			attrs = append(attrs, attribute.String("terminal_id", v.GetStringValue()))
		case "kind":
			attrs = append(attrs, attribute.String("terminal.kind", v.GetStringValue()))
		}
	}
	return attrs
}

// StartChildSpan starts a child span for work done inside a handler.
// terminalID is optional.
func StartChildSpan(ctx context.Context, name, terminalID string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(extra)+1)
	if terminalID != "" {
		attrs = append(attrs, attribute.String("terminal_id", terminalID))
	}
	attrs = append(attrs, extra...)
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
