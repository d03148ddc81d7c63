package middleware

import (
	"context"
	"net/http"
	"time"

	"tidb-odata/internal/observability"
)

// RequestInfo is filled in by the OData handler so the logging and metrics
// middleware can label the request after it completes. The outermost
// middleware creates it and inner ones share it.
type RequestInfo struct {
	Processor string
	ErrorKind string
}

type requestInfoKey struct{}

// RequestInfoFromContext returns the request's info record, or nil outside the
// logging and metrics middleware.
func RequestInfoFromContext(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info
}

// ContextWithRequestInfo attaches info to ctx.
func ContextWithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// ODataMetricsMiddleware tracks in-flight requests and records duration and
// outcome per processor kind.
func ODataMetricsMiddleware(metrics *observability.ODataMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.ContextWithMetrics(r.Context(), metrics)
			info := RequestInfoFromContext(ctx)
			if info == nil {
				info = &RequestInfo{Processor: "unknown"}
				ctx = ContextWithRequestInfo(ctx, info)
			}

			metrics.IncrementActiveRequests(ctx)
			defer metrics.DecrementActiveRequests(ctx)

			start := time.Now()
			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			errKind := info.ErrorKind
			if errKind == "" && wrapped.status >= http.StatusBadRequest {
				errKind = http.StatusText(wrapped.status)
			}
			metrics.RecordRequest(ctx, time.Since(start), info.Processor, errKind)
		})
	}
}
