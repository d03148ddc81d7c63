package dispatch

import (
	"context"
	"net/http"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/paging"
	"tidb-odata/internal/uri"
)

type countProcessor struct {
	d   *Dispatcher
	req Request
}

func (p *countProcessor) Kind() ProcessorKind { return ProcessorCount }

func (p *countProcessor) Process(ctx context.Context) (result *Result, err error) {
	ctx, span := startSpan(ctx, ProcessorCount, p.req.Path.String())
	defer func() { finishSpan(span, err) }()

	q, err := query(p.req.Path, p.req.Options)
	if err != nil {
		return nil, err
	}
	n, err := p.d.count(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Result{Shape: ShapeRaw, Value: n}, nil
}

// navigationProcessor reads entities, properties and raw values over one
// resolved page.
type navigationProcessor struct {
	d    *Dispatcher
	page paging.Page
}

func (p *navigationProcessor) Kind() ProcessorKind { return ProcessorNavigation }

func (p *navigationProcessor) Process(ctx context.Context) (result *Result, err error) {
	path := p.page.Path()
	options := p.page.Options()
	ctx, span := startSpan(ctx, ProcessorNavigation, path.String())
	defer func() { finishSpan(span, err) }()

	q, err := query(path, options)
	if err != nil {
		return nil, err
	}
	q.Skip, q.Top = p.page.Skip(), p.page.Top()
	plan, err := p.d.planner.PlanSelect(p.d.schema, q)
	if err != nil {
		return nil, err
	}

	rows, err := p.d.executor.QueryContext(ctx, plan.SQL, plan.Args...)
	if err != nil {
		return nil, err
	}
	records, err := dbexec.ScanMaps(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	terminal, _ := path.Terminal()
	if plan.Single {
		if len(records) == 0 {
			return nil, odataerr.New(odataerr.KindBadRequest, odataerr.KeyUnknownResource, http.StatusNotFound, path.String())
		}
		return singleResult(terminal, plan.Columns, records[0]), nil
	}

	values := make([]any, len(records))
	for i, rec := range records {
		values[i] = shapeRow(rec)
	}
	result = &Result{
		Shape:           ShapeCollection,
		Value:           values,
		NextToken:       p.page.Token(),
		AppliedPageSize: p.page.AppliedPageSize(),
	}
	if options.Count {
		q.Skip, q.Top = 0, 0
		n, err := p.d.count(ctx, q)
		if err != nil {
			return nil, err
		}
		result.Count = &n
	}
	return result, nil
}

func singleResult(terminal uri.Segment, columns []string, record map[string]any) *Result {
	switch terminal.Kind {
	case uri.KindValue:
		return &Result{Shape: ShapeRaw, Value: record[columns[0]]}
	case uri.KindPrimitiveProperty:
		return &Result{Shape: ShapeProperty, Value: record[columns[0]]}
	case uri.KindComplexProperty:
		return &Result{Shape: ShapeEntity, Value: shapeRow(record)[terminal.Name]}
	}
	return &Result{Shape: ShapeEntity, Value: shapeRow(record)}
}
