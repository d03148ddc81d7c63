// Package operation turns statically registered operation specifications into
// validated, immutable protocol descriptors for custom actions and functions.
package operation

import (
	"context"
	"fmt"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/edmtype"
)

// Kind distinguishes actions (side effects, POST) from functions (pure, GET).
type Kind int

const (
	KindAction Kind = iota
	KindFunction
)

func (k Kind) String() string {
	if k == KindFunction {
		return "function"
	}
	return "action"
}

// ParseKind parses "action" or "function".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "action":
		return KindAction, nil
	case "function":
		return KindFunction, nil
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// ParamSession marks a constructor parameter that receives the persistence session.
const ParamSession = "session"

// Handler executes an operation. instance is the value built by the selected
// constructor, or nil for free-function handlers.
type Handler func(ctx context.Context, instance any, session dbexec.QueryExecutor, args map[string]any) (any, error)

// Constructor describes one way of instantiating a declaring type.
type Constructor struct {
	Exported bool
	// Params lists the constructor's parameter type tags in order.
	Params []string
	New    func(session dbexec.QueryExecutor) (any, error)
}

// DeclaringType is the type an operation is declared on.
type DeclaringType struct {
	Name         string `validate:"required"`
	Constructors []Constructor
}

// ParameterSpec declares one operation parameter.
type ParameterSpec struct {
	Name  string        `validate:"required" yaml:"name"`
	Type  string        `validate:"required" yaml:"type"`
	Hints edmtype.Hints `yaml:"hints"`
}

// ReturnSpec declares the return type. ElementType overrides the element of a collection.
type ReturnSpec struct {
	Type        string        `validate:"required" yaml:"type"`
	ElementType string        `yaml:"element_type"`
	Hints       edmtype.Hints `yaml:"hints"`
}

// Spec is a raw operation descriptor as registered by the application.
type Spec struct {
	Name          string `validate:"required,excludesall=/()'"`
	ExternalName  string
	Kind          Kind `validate:"oneof=0 1"`
	Declaring     *DeclaringType
	Bound         bool
	EntitySetPath string
	NoImport      bool
	Parameters    []ParameterSpec `validate:"dive"`
	Return        *ReturnSpec
	Handler       Handler `validate:"required"`
}

// Parameter is a resolved operation parameter.
type Parameter struct {
	Name string
	Type *edmtype.TypeRef
}

// Descriptor is a validated operation. It is immutable after Build.
type Descriptor struct {
	name          string
	externalName  string
	kind          Kind
	declaring     string
	bound         bool
	bindingType   string
	entitySetPath string
	returnType    *edmtype.TypeRef
	params        []Parameter
	hasImport     bool
	constructor   *Constructor
	handler       Handler
}

func (d *Descriptor) Name() string                 { return d.name }
func (d *Descriptor) ExternalName() string         { return d.externalName }
func (d *Descriptor) Kind() Kind                   { return d.kind }
func (d *Descriptor) DeclaringType() string        { return d.declaring }
func (d *Descriptor) IsBound() bool                { return d.bound }
func (d *Descriptor) BindingType() string          { return d.bindingType }
func (d *Descriptor) EntitySetPath() string        { return d.entitySetPath }
func (d *Descriptor) ReturnType() *edmtype.TypeRef { return d.returnType }
func (d *Descriptor) HasImport() bool              { return d.hasImport }

// Parameters returns a copy of the ordered parameter list.
func (d *Descriptor) Parameters() []Parameter {
	return append([]Parameter(nil), d.params...)
}

// Parameter looks up a parameter by name.
func (d *Descriptor) Parameter(name string) (Parameter, bool) {
	for _, p := range d.params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// HasConstructor reports whether invocation instantiates a declaring type.
func (d *Descriptor) HasConstructor() bool {
	return d.constructor != nil
}

// Invoke instantiates the declaring type, if any, and runs the handler.
func (d *Descriptor) Invoke(ctx context.Context, session dbexec.QueryExecutor, args map[string]any) (any, error) {
	var instance any
	if d.constructor != nil {
		var err error
		instance, err = d.constructor.New(session)
		if err != nil {
			return nil, fmt.Errorf("instantiate %s: %w", d.declaring, err)
		}
	}
	return d.handler(ctx, instance, session, args)
}
