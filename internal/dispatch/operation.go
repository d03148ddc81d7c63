package dispatch

import (
	"context"
	"fmt"
	"sort"

	"tidb-odata/internal/edmtype"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/operation"
	"tidb-odata/internal/uri"
)

// operationProcessor invokes a function or an action. A two-segment path binds
// the first segment to the operation's binding parameter.
type operationProcessor struct {
	d    *Dispatcher
	kind ProcessorKind
	path *uri.Path
	args map[string]any
}

func newOperationProcessor(d *Dispatcher, kind ProcessorKind, path *uri.Path, args map[string]any) *operationProcessor {
	return &operationProcessor{d: d, kind: kind, path: path, args: args}
}

func (p *operationProcessor) Kind() ProcessorKind { return p.kind }

func (p *operationProcessor) Process(ctx context.Context) (result *Result, err error) {
	ctx, span := startSpan(ctx, p.kind, p.path.String())
	defer func() { finishSpan(span, err) }()

	terminal, _ := p.path.Terminal()
	d := terminal.Operation
	if d == nil {
		return nil, odataerr.BadRequest(odataerr.KeyOperationNotFound, terminal.Name)
	}
	var binding *uri.Segment
	if d.IsBound() && p.path.Len() > 1 {
		binding = &p.path.Segments[0]
	}
	args, err := bindArguments(d, binding, p.args)
	if err != nil {
		return nil, err
	}

	value, err := d.Invoke(ctx, p.d.executor, args)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", d.Kind(), d.ExternalName(), err)
	}
	return operationResult(d.ReturnType(), value), nil
}

// bindArguments checks the given arguments against the declared parameters.
// The binding parameter receives the key of the bound entity, or nil when the
// operation is bound to a collection.
func bindArguments(d *operation.Descriptor, binding *uri.Segment, given map[string]any) (map[string]any, error) {
	params := d.Parameters()
	args := make(map[string]any, len(params))
	if d.IsBound() && len(params) > 0 {
		args[params[0].Name] = bindingKey(binding)
		params = params[1:]
	}

	known := make(map[string]bool, len(params))
	for _, param := range params {
		known[param.Name] = true
		value, ok := given[param.Name]
		if !ok {
			if param.Type != nil && param.Type.Facets.Nullable {
				args[param.Name] = nil
				continue
			}
			return nil, odataerr.BadRequest(odataerr.KeyInvalidQueryOption, "missing parameter", param.Name)
		}
		args[param.Name] = value
	}

	var unknown []string
	for name := range given {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, odataerr.BadRequest(odataerr.KeyInvalidQueryOption, append([]string{"unknown parameter"}, unknown...)...)
	}
	return args, nil
}

func bindingKey(seg *uri.Segment) map[string]any {
	if seg == nil || seg.Collection || seg.Table == nil {
		return nil
	}
	key := make(map[string]any, len(seg.Keys))
	for _, k := range seg.Keys {
		name := k.Column
		if col, ok := seg.Table.Column(k.Column); ok {
			name = col.PropertyName
		}
		key[name] = k.Value
	}
	return key
}

func operationResult(ret *edmtype.TypeRef, value any) *Result {
	switch {
	case ret == nil:
		return &Result{Shape: ShapeNone}
	case ret.Collection:
		if value == nil {
			value = []any{}
		}
		return &Result{Shape: ShapeCollection, Value: shapeValues(value)}
	case value == nil:
		return &Result{Shape: ShapeNone}
	case ret.Kind == edmtype.KindPrimitive:
		return &Result{Shape: ShapeProperty, Value: value}
	}
	if row, ok := value.(map[string]any); ok {
		value = shapeRow(row)
	}
	return &Result{Shape: ShapeEntity, Value: value}
}

func shapeValues(value any) any {
	items, ok := value.([]any)
	if !ok {
		return value
	}
	out := make([]any, len(items))
	for i, item := range items {
		if row, ok := item.(map[string]any); ok {
			item = shapeRow(row)
		}
		out[i] = item
	}
	return out
}
