package dispatch

import (
	"context"

	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/uri"
)

type modification int

const (
	modifyCreate modification = iota
	modifyUpdate
	modifyDelete
)

// modifyProcessor answers create, update and delete requests. Mutations are not
// supported; every entry point reports not implemented.
type modifyProcessor struct {
	op   modification
	path *uri.Path
}

func (p *modifyProcessor) Kind() ProcessorKind { return ProcessorModify }

func (p *modifyProcessor) Process(ctx context.Context) (*Result, error) {
	switch p.op {
	case modifyCreate:
		return nil, p.Create(ctx)
	case modifyUpdate:
		return nil, p.Update(ctx)
	default:
		return nil, p.Delete(ctx)
	}
}

func (p *modifyProcessor) Create(context.Context) error {
	return odataerr.NotImplemented(odataerr.KeyNotSupportedCreate, p.path.String())
}

func (p *modifyProcessor) Update(context.Context) error {
	return odataerr.NotImplemented(odataerr.KeyNotSupportedUpdate, p.path.String())
}

func (p *modifyProcessor) Delete(context.Context) error {
	return odataerr.NotImplemented(odataerr.KeyNotSupportedDelete, p.path.String())
}
