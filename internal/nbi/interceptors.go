package nbi

import (
	"context"
	"time"

	"github.com/signalsfoundry/unifilar/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const requestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided, and attaches a
// per-request logger annotated with request_id and method. The outcome of
// every call is logged at debug level, failures at warn.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	base = logging.OrNoop(base)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
		}
		ctx, reqID := logging.EnsureRequestID(ctx)

		reqLog := base.With(
			logging.String("request_id", reqID),
			logging.String("method", info.FullMethod),
		)
		ctx = logging.ContextWithLogger(ctx, reqLog)

		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			reqLog.Warn(ctx, "rpc failed",
				logging.String("code", status.Code(err).String()),
				logging.Err(err),
			)
		} else {
			reqLog.Debug(ctx, "rpc done", logging.Duration("elapsed", time.Since(start)))
		}
		return resp, err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
