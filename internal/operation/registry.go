package operation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"tidb-odata/internal/logging"
	"tidb-odata/internal/naming"
	"tidb-odata/internal/odataerr"
)

var validate = validator.New()

// Registry collects operation specs before the catalog is built.
// It is not safe for concurrent use.
type Registry struct {
	specs []Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates the shape of spec and queues it for Build.
func (r *Registry) Register(spec Spec) error {
	if err := validate.Struct(spec); err != nil {
		var valErrs validator.ValidationErrors
		if errors.As(err, &valErrs) {
			fields := make([]string, 0, len(valErrs))
			for _, ve := range valErrs {
				fields = append(fields, ve.Namespace()+" "+ve.Tag())
			}
			return odataerr.Model(odataerr.KeyInvalidOperationSpec, append([]string{spec.Name}, fields...)...)
		}
		return odataerr.Modelf(odataerr.KeyInvalidOperationSpec, "operation %s: %v", spec.Name, err)
	}
	r.specs = append(r.specs, spec)
	return nil
}

// Len returns the number of registered specs.
func (r *Registry) Len() int {
	return len(r.specs)
}

// Build validates every registered spec against schema. Any failure aborts the
// whole build; a partially valid catalog is never returned.
func (r *Registry) Build(ctx context.Context, namer *naming.Namer, schema SchemaContext) (*Catalog, error) {
	logger := logging.FromContext(ctx)
	catalog := &Catalog{
		byKey:  make(map[catalogKey]*Descriptor, len(r.specs)),
		byName: make(map[string][]*Descriptor, len(r.specs)),
	}
	for _, spec := range r.specs {
		d, err := Build(namer, spec, schema)
		if err != nil {
			logger.Error("operation catalog build failed",
				slog.String("operation", spec.Name),
				slog.String("code", string(odataerr.KeyOf(err))),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		key := catalogKey{declaring: d.declaring, name: d.name}
		if _, exists := catalog.byKey[key]; exists {
			return nil, odataerr.Model(odataerr.KeyDuplicateOperation, d.declaring, d.name)
		}
		catalog.byKey[key] = d
		catalog.byName[d.externalName] = append(catalog.byName[d.externalName], d)
		catalog.ordered = append(catalog.ordered, d)
	}
	logger.Info("operation catalog built", slog.Int("operations", len(catalog.ordered)))
	return catalog, nil
}

type catalogKey struct {
	declaring string
	name      string
}

// Catalog is the immutable set of operation descriptors, keyed by declaring
// type and operation name. Safe for concurrent reads.
type Catalog struct {
	byKey   map[catalogKey]*Descriptor
	byName  map[string][]*Descriptor
	ordered []*Descriptor
}

// Get returns the descriptor cached for (declaring type, operation name).
func (c *Catalog) Get(declaring, name string) (*Descriptor, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.byKey[catalogKey{declaring: declaring, name: name}]
	return d, ok
}

// Lookup returns the unbound operation published under externalName.
func (c *Catalog) Lookup(externalName string) (*Descriptor, bool) {
	if c == nil {
		return nil, false
	}
	for _, d := range c.byName[externalName] {
		if !d.bound {
			return d, true
		}
	}
	return nil, false
}

// LookupImport returns the unbound operation addressable at the service root
// under externalName. Operations declared without an import are not.
func (c *Catalog) LookupImport(externalName string) (*Descriptor, bool) {
	d, ok := c.Lookup(externalName)
	if !ok || !d.hasImport {
		return nil, false
	}
	return d, true
}

// LookupBound returns the operation named externalName bound to entityType.
func (c *Catalog) LookupBound(externalName, entityType string) (*Descriptor, bool) {
	if c == nil {
		return nil, false
	}
	for _, d := range c.byName[externalName] {
		if d.bound && (d.bindingType == entityType || strings.HasSuffix(d.bindingType, "."+entityType)) {
			return d, true
		}
	}
	return nil, false
}

// All returns every descriptor in registration order.
func (c *Catalog) All() []*Descriptor {
	if c == nil {
		return nil
	}
	return append([]*Descriptor(nil), c.ordered...)
}

// Functions returns all functions sorted by external name.
func (c *Catalog) Functions() []*Descriptor {
	return c.filter(func(d *Descriptor) bool { return d.kind == KindFunction })
}

// Actions returns all actions sorted by external name.
func (c *Catalog) Actions() []*Descriptor {
	return c.filter(func(d *Descriptor) bool { return d.kind == KindAction })
}

// Imports returns the unbound operations exposed at the service root.
func (c *Catalog) Imports() []*Descriptor {
	return c.filter(func(d *Descriptor) bool { return d.hasImport })
}

// BoundTo returns the operations whose binding parameter is entityType.
func (c *Catalog) BoundTo(entityType string) []*Descriptor {
	return c.filter(func(d *Descriptor) bool { return d.bound && d.bindingType == entityType })
}

func (c *Catalog) filter(keep func(*Descriptor) bool) []*Descriptor {
	var out []*Descriptor
	for _, d := range c.All() {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].externalName < out[j].externalName
	})
	return out
}
