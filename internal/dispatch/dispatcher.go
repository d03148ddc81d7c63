// Package dispatch routes resolved resource paths to processors. It rejects
// path shapes the service does not support, resolves paging for reads and
// executes planned statements through a dbexec.QueryExecutor.
package dispatch

import (
	"context"
	"net/http"
	"strings"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/filter"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/paging"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/uri"
)

// Request is a parsed incoming request.
type Request struct {
	Path    *uri.Path
	Options uri.Options
	Header  http.Header
	// Body carries action parameters.
	Body map[string]any
}

// Dispatcher selects processors. It holds no per-request state.
type Dispatcher struct {
	schema   *introspection.Schema
	planner  *planner.Planner
	pages    *paging.Resolver
	executor dbexec.QueryExecutor
}

// New creates a dispatcher. A nil resolver disables server-driven paging.
func New(schema *introspection.Schema, p *planner.Planner, pages *paging.Resolver, executor dbexec.QueryExecutor) *Dispatcher {
	if pages == nil {
		pages = paging.NewResolver(nil, 0)
	}
	if p == nil {
		p = planner.New(0)
	}
	return &Dispatcher{schema: schema, planner: p, pages: pages, executor: executor}
}

// Dispatch routes a read on the terminal segment kind. A $skiptoken without
// server-driven paging fails for every kind; only navigation reads resolve a
// page.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Processor, error) {
	terminal, ok := req.Path.Terminal()
	if !ok {
		return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, "empty path")
	}
	if err := d.pages.CheckToken(req.Options.SkipToken); err != nil {
		return nil, err
	}
	logger := logging.FromContext(ctx)

	switch terminal.Kind {
	case uri.KindCount:
		logger.Debug("dispatching count", "path", req.Path.String())
		return &countProcessor{d: d, req: req}, nil
	case uri.KindFunction:
		if req.Path.Len() > 2 {
			return nil, odataerr.New(odataerr.KindFunctionWithNavigationNotSupported,
				odataerr.KeyFunctionWithNavigationNotSupported, http.StatusNotImplemented, terminal.Name)
		}
		logger.Debug("dispatching function", "path", req.Path.String(), "function", terminal.Name)
		return newOperationProcessor(d, ProcessorFunction, req.Path, terminal.Args), nil
	case uri.KindComplexProperty, uri.KindPrimitiveProperty, uri.KindNavigationProperty,
		uri.KindEntitySet, uri.KindSingleton, uri.KindValue:
		for i := range req.Path.Segments {
			if seg := &req.Path.Segments[i]; !navigable(seg.Kind) {
				return nil, unsupportedResource(seg)
			}
		}
		page, err := d.pages.Resolve(ctx, paging.Request{
			Path:    req.Path,
			Options: req.Options,
			Header:  req.Header,
			Count:   d.counter(req.Path, req.Options),
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("dispatching navigation", "path", req.Path.String(),
			"skip", page.Skip(), "top", page.Top(), "has_next", page.HasNext())
		return &navigationProcessor{d: d, page: page}, nil
	default:
		return nil, unsupportedResource(&terminal)
	}
}

// DispatchAction routes an action invocation. Parameters come from the body.
func (d *Dispatcher) DispatchAction(ctx context.Context, req Request) (Processor, error) {
	terminal, ok := req.Path.Terminal()
	if !ok {
		return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, "empty path")
	}
	if terminal.Kind != uri.KindAction {
		return nil, unsupportedResource(&terminal)
	}
	if req.Path.Len() > 2 {
		return nil, odataerr.New(odataerr.KindFunctionWithNavigationNotSupported,
			odataerr.KeyFunctionWithNavigationNotSupported, http.StatusNotImplemented, terminal.Name)
	}
	logging.FromContext(ctx).Debug("dispatching action", "path", req.Path.String(), "action", terminal.Name)
	return newOperationProcessor(d, ProcessorAction, req.Path, req.Body), nil
}

// DispatchModify returns the processor for a create, update or delete request.
func (d *Dispatcher) DispatchModify(method string, req Request) (Processor, error) {
	var op modification
	switch method {
	case http.MethodPost:
		op = modifyCreate
	case http.MethodPut, http.MethodPatch:
		op = modifyUpdate
	case http.MethodDelete:
		op = modifyDelete
	default:
		return nil, odataerr.New(odataerr.KindBadRequest, odataerr.KeyUnknownResource, http.StatusMethodNotAllowed, method)
	}
	return &modifyProcessor{op: op, path: req.Path}, nil
}

func navigable(kind uri.SegmentKind) bool {
	switch kind {
	case uri.KindComplexProperty, uri.KindPrimitiveProperty, uri.KindNavigationProperty,
		uri.KindEntitySet, uri.KindSingleton, uri.KindValue:
		return true
	}
	return false
}

func unsupportedResource(seg *uri.Segment) error {
	return odataerr.New(odataerr.KindUnsupportedResourceType, odataerr.KeyUnsupportedResourceType,
		http.StatusNotImplemented, seg.Kind.String(), seg.Name)
}

// query translates the read options into a planner query.
func query(path *uri.Path, options uri.Options) (planner.Query, error) {
	q := planner.Query{Path: path, Select: options.SelectList()}
	if strings.TrimSpace(options.Filter) != "" {
		node, err := filter.Parse(options.Filter)
		if err != nil {
			return planner.Query{}, err
		}
		q.Filter = node
	}
	items, err := options.OrderItems()
	if err != nil {
		return planner.Query{}, err
	}
	q.OrderBy = items
	return q, nil
}

// counter runs the count-only variant of a read for the paging provider.
func (d *Dispatcher) counter(path *uri.Path, options uri.Options) paging.Counter {
	return func(ctx context.Context) (int64, error) {
		q, err := query(path, options)
		if err != nil {
			return 0, err
		}
		return d.count(ctx, q)
	}
}

func (d *Dispatcher) count(ctx context.Context, q planner.Query) (int64, error) {
	stmt, err := d.planner.PlanCount(d.schema, q)
	if err != nil {
		return 0, err
	}
	rows, err := d.executor.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, dbexec.NormalizeError(rows.Err())
}
