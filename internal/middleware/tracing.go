package middleware

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tidb-odata/internal/logging"
)

// ODataTracingMiddleware opens the request span that processor spans nest
// under, and attaches the trace ids to the request logger.
func ODataTracingMiddleware() func(http.Handler) http.Handler {
	tracer := otel.Tracer("tidb-odata/internal/middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "odata.request",
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("odata.resource_path", r.URL.Path),
				),
			)
			defer span.End()

			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				reqLogger := logging.FromContext(ctx).WithFields(
					slog.String("trace_id", spanCtx.TraceID().String()),
					slog.String("span_id", spanCtx.SpanID().String()),
				)
				ctx = logging.WithLogger(ctx, reqLogger)
			}

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", wrapped.status))
			if info := RequestInfoFromContext(ctx); info != nil {
				span.SetAttributes(attribute.String("odata.processor", info.Processor))
			}
			if wrapped.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(wrapped.status))
			}
		})
	}
}
