package operation

import (
	"net/http"
	"strings"

	"tidb-odata/internal/edmtype"
	"tidb-odata/internal/naming"
	"tidb-odata/internal/odataerr"
)

// SchemaContext is the entity model an operation is validated against.
type SchemaContext interface {
	edmtype.StructuredTypes
	// Navigate follows navigation properties from entityType and returns the
	// qualified target type and whether any hop is collection-valued.
	Navigate(entityType string, path []string) (target string, toMany bool, err error)
}

// Build validates spec and produces its descriptor. Validation stops at the
// first failing rule; no descriptor is returned on failure.
func Build(namer *naming.Namer, spec Spec, schema SchemaContext) (*Descriptor, error) {
	if namer == nil {
		namer = naming.Default()
	}

	returnType, err := resolveReturn(spec, schema)
	if err != nil {
		return nil, err
	}
	if spec.Kind == KindFunction && returnType == nil {
		return nil, odataerr.Model(odataerr.KeyFunctionWithoutReturnType, spec.Name)
	}

	params, err := resolveParameters(spec, schema)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		name:       spec.Name,
		kind:       spec.Kind,
		bound:      spec.Bound,
		returnType: returnType,
		params:     params,
		handler:    spec.Handler,
	}
	d.externalName = spec.ExternalName
	if d.externalName == "" {
		d.externalName = namer.ExternalName(spec.Name)
	}

	if spec.Bound {
		if err := checkBinding(spec, d, schema); err != nil {
			return nil, err
		}
	} else {
		if spec.EntitySetPath != "" {
			return nil, odataerr.Model(odataerr.KeyEntitySetPathNotSupported, spec.Name, spec.EntitySetPath)
		}
		d.hasImport = !spec.NoImport
	}

	if spec.Declaring != nil {
		ctor, err := selectConstructor(spec.Name, spec.Declaring)
		if err != nil {
			return nil, err
		}
		d.declaring = spec.Declaring.Name
		d.constructor = ctor
	}
	return d, nil
}

func resolveReturn(spec Spec, schema SchemaContext) (*edmtype.TypeRef, error) {
	if spec.Return == nil {
		return nil, nil
	}
	raw := edmtype.ParseRaw(spec.Return.Type)
	if raw.Collection && spec.Return.ElementType != "" {
		raw.Tag = spec.Return.ElementType
	}
	if raw.Collection && raw.Tag == "" {
		return nil, odataerr.Model(odataerr.KeyReturnTypeCollectionNotGiven, spec.Name)
	}
	return edmtype.Resolve(raw, spec.Return.Hints, schema)
}

func resolveParameters(spec Spec, schema SchemaContext) ([]Parameter, error) {
	params := make([]Parameter, 0, len(spec.Parameters))
	for _, p := range spec.Parameters {
		raw := edmtype.ParseRaw(p.Type)
		if raw.IsVoid() {
			return nil, odataerr.Model(odataerr.KeyInvalidParameterType, spec.Name, p.Name)
		}
		ref, err := edmtype.Resolve(raw, p.Hints, schema)
		if err != nil {
			if raw.Collection {
				// Unresolvable collection elements keep their own key.
				return nil, err
			}
			return nil, odataerr.Wrap(err, odataerr.KindModelValidation, odataerr.KeyInvalidParameterType,
				http.StatusInternalServerError, spec.Name, p.Name)
		}
		params = append(params, Parameter{Name: p.Name, Type: ref})
	}
	return params, nil
}

func checkBinding(spec Spec, d *Descriptor, schema SchemaContext) error {
	if len(d.params) == 0 {
		return odataerr.Model(odataerr.KeyBoundActionMissingParameter, spec.Name)
	}
	binding := d.params[0]
	if !binding.Type.IsEntity() {
		return odataerr.Model(odataerr.KeyBoundActionWithoutBindingParameter, spec.Name, binding.Name)
	}
	d.bindingType = binding.Type.Name
	if spec.EntitySetPath == "" {
		return nil
	}

	segments := strings.Split(spec.EntitySetPath, "/")
	if segments[0] != binding.Name && segments[0] != localName(binding.Type.Name) {
		return odataerr.Model(odataerr.KeyEntitySetPathNotSupported, spec.Name, spec.EntitySetPath)
	}
	target, _, err := schema.Navigate(binding.Type.Name, segments[1:])
	if err != nil {
		return odataerr.Wrap(err, odataerr.KindModelValidation, odataerr.KeyEntitySetPathNotSupported,
			http.StatusInternalServerError, spec.Name, spec.EntitySetPath)
	}
	ret := d.returnType
	if !ret.IsEntity() || !ret.Collection || ret.Name != target {
		return odataerr.Model(odataerr.KeyEntitySetPathNotSupported, spec.Name, spec.EntitySetPath)
	}
	d.entitySetPath = spec.EntitySetPath
	return nil
}

func selectConstructor(operation string, declaring *DeclaringType) (*Constructor, error) {
	inaccessible := false
	for i := range declaring.Constructors {
		ctor := &declaring.Constructors[i]
		if !ctor.Exported {
			inaccessible = true
			continue
		}
		if ctor.New == nil {
			continue
		}
		if len(ctor.Params) == 0 || (len(ctor.Params) == 1 && ctor.Params[0] == ParamSession) {
			selected := *ctor
			selected.Params = append([]string(nil), ctor.Params...)
			return &selected, nil
		}
	}
	if inaccessible {
		return nil, odataerr.Model(odataerr.KeyInstanceNotAccessible, operation, declaring.Name)
	}
	return nil, odataerr.Model(odataerr.KeyNoMatchingConstructor, operation, declaring.Name)
}

func localName(fqn string) string {
	if i := strings.LastIndex(fqn, "."); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}
