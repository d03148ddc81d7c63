package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Paging events recorded by RecordPaging.
const (
	PagingMinted   = "minted"
	PagingResolved = "resolved"
	PagingGone     = "gone"
)

// ODataMetrics holds request-level metrics for the OData service.
type ODataMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	resultsCount    metric.Int64Histogram
	pagingEvents    metric.Int64Counter
	schemaBuild     metric.Float64Histogram
}

// InitODataMetrics creates the service instruments on the global meter provider.
func InitODataMetrics() (*ODataMetrics, error) {
	meter := otel.Meter("tidb-odata")
	m := &ODataMetrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"odata.request.duration",
		metric.WithDescription("Duration of OData requests in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}
	if m.requestCounter, err = meter.Int64Counter(
		"odata.requests.total",
		metric.WithDescription("Total number of OData requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	if m.errorCounter, err = meter.Int64Counter(
		"odata.errors.total",
		metric.WithDescription("Total number of failed OData requests by error kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}
	if m.activeRequests, err = meter.Int64UpDownCounter(
		"odata.requests.active",
		metric.WithDescription("Number of in-flight OData requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}
	if m.resultsCount, err = meter.Int64Histogram(
		"odata.results.count",
		metric.WithDescription("Number of entities returned per collection response"),
	); err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}
	if m.pagingEvents, err = meter.Int64Counter(
		"odata.paging.events.total",
		metric.WithDescription("Server-driven paging tokens minted, resolved, and expired"),
	); err != nil {
		return nil, fmt.Errorf("failed to create paging counter: %w", err)
	}
	if m.schemaBuild, err = meter.Float64Histogram(
		"odata.schema.build.duration",
		metric.WithDescription("Duration of schema introspection and operation catalog builds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create schema build histogram: %w", err)
	}
	return m, nil
}

// RecordRequest records one finished request. errKind is empty on success.
func (m *ODataMetrics) RecordRequest(ctx context.Context, duration time.Duration, processor, errKind string) {
	attrs := metric.WithAttributes(attribute.String("processor", processor))
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCounter.Add(ctx, 1, attrs)
	if errKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("processor", processor),
			attribute.String("error.kind", errKind),
		))
	}
}

func (m *ODataMetrics) RecordResultsCount(ctx context.Context, count int64, entitySet string) {
	m.resultsCount.Record(ctx, count, metric.WithAttributes(attribute.String("entity_set", entitySet)))
}

func (m *ODataMetrics) RecordPaging(ctx context.Context, event string) {
	m.pagingEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *ODataMetrics) RecordSchemaBuild(ctx context.Context, duration time.Duration, success bool) {
	m.schemaBuild.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attribute.Bool("success", success)))
}

func (m *ODataMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

func (m *ODataMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes the service metrics and logs the outcome.
func InitMetrics(logger *slog.Logger) (*ODataMetrics, error) {
	metrics, err := InitODataMetrics()
	if err != nil {
		logger.Error("failed to initialize OData metrics", slog.String("error", err.Error()))
		return nil, err
	}
	logger.Info("OData metrics initialized")
	return metrics, nil
}

type metricsContextKey struct{}

// ContextWithMetrics stores the metrics on the context.
func ContextWithMetrics(ctx context.Context, metrics *ODataMetrics) context.Context {
	if metrics == nil {
		return ctx
	}
	return context.WithValue(ctx, metricsContextKey{}, metrics)
}

// MetricsFromContext returns the stored metrics, or nil.
func MetricsFromContext(ctx context.Context) *ODataMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(metricsContextKey{}).(*ODataMetrics)
	return metrics
}
