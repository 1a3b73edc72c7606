package metrics

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns a gRPC interceptor that counts and times the
// customattrs.v1.Attributes RPCs (DefineAttributeType, SetAttribute and the
// rest), labelled by full method name. Failed calls are also counted per
// status code, so a FailedPrecondition from a missing required attribute is
// told apart from an Internal error. exporter may be nil.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		method := info.FullMethod

		// Record request
		collector.RecordRequest(method)
		if exporter != nil {
			exporter.RecordRequest(method)
		}

		// Call handler
		resp, err := handler(ctx, req)

		// Record duration
		duration := time.Since(start).Seconds()
		collector.RecordDuration(method, duration)
		if exporter != nil {
			exporter.RecordDuration(method, duration)
		}

		// Record error if any
		if err != nil {
			collector.RecordError(method)
			if exporter != nil {
				exporter.RecordError(method, status.Code(err).String())
			}
		}

		return resp, err
	}
}
