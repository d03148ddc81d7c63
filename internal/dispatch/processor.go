package dispatch

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tidb-odata/internal/planner"
)

// ProcessorKind names the processor variant a request was routed to.
type ProcessorKind string

const (
	ProcessorCount      ProcessorKind = "count"
	ProcessorFunction   ProcessorKind = "function"
	ProcessorAction     ProcessorKind = "action"
	ProcessorNavigation ProcessorKind = "navigation"
	ProcessorModify     ProcessorKind = "modify"
)

// Processor executes one dispatched request.
type Processor interface {
	Kind() ProcessorKind
	Process(ctx context.Context) (*Result, error)
}

// Shape tells the response writer how to render a Result.
type Shape int

const (
	// ShapeNone has no body.
	ShapeNone Shape = iota
	// ShapeCollection is a list of entities or values under "value".
	ShapeCollection
	// ShapeEntity is a single entity or complex value.
	ShapeEntity
	// ShapeProperty is a single primitive value under "value".
	ShapeProperty
	// ShapeRaw is a bare value written as text ($value, $count).
	ShapeRaw
)

// Result is the outcome of a processor.
type Result struct {
	Shape Shape
	Value any
	// Count is set when the client asked for an inline count.
	Count *int64
	// NextToken continues a server-driven page.
	NextToken string
	// AppliedPageSize echoes an honored odata.maxpagesize preference.
	AppliedPageSize int
}

// shapeRow nests "Complex.Member" columns into per-complex-property maps.
func shapeRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for name, value := range row {
		outer, member, ok := strings.Cut(name, planner.EmbeddedSeparator)
		if !ok {
			out[name] = value
			continue
		}
		nested, _ := out[outer].(map[string]any)
		if nested == nil {
			nested = map[string]any{}
			out[outer] = nested
		}
		nested[member] = value
	}
	return out
}

func startSpan(ctx context.Context, kind ProcessorKind, path string) (context.Context, trace.Span) {
	tracer := otel.Tracer("tidb-odata/internal/dispatch")
	return tracer.Start(ctx, "odata."+string(kind), trace.WithAttributes(
		attribute.String("odata.processor", string(kind)),
		attribute.String("odata.path", path),
	))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
