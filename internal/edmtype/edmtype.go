// Package edmtype maps raw type tags and SQL column types onto protocol
// type references carrying facets (nullability, precision, scale, max length,
// spatial reference).
package edmtype

import (
	"strconv"
	"strings"
)

// Kind is the structural category of a resolved type.
type Kind int

const (
	KindPrimitive Kind = iota
	KindComplex
	KindEntity
)

func (k Kind) String() string {
	switch k {
	case KindComplex:
		return "complex"
	case KindEntity:
		return "entity"
	default:
		return "primitive"
	}
}

// Primitive names an EDM primitive type.
type Primitive string

const (
	Boolean        Primitive = "Edm.Boolean"
	Byte           Primitive = "Edm.Byte"
	SByte          Primitive = "Edm.SByte"
	Int16          Primitive = "Edm.Int16"
	Int32          Primitive = "Edm.Int32"
	Int64          Primitive = "Edm.Int64"
	Single         Primitive = "Edm.Single"
	Double         Primitive = "Edm.Double"
	Decimal        Primitive = "Edm.Decimal"
	String         Primitive = "Edm.String"
	Binary         Primitive = "Edm.Binary"
	Date           Primitive = "Edm.Date"
	TimeOfDay      Primitive = "Edm.TimeOfDay"
	DateTimeOffset Primitive = "Edm.DateTimeOffset"
	Duration       Primitive = "Edm.Duration"
	Guid           Primitive = "Edm.Guid"
)

// IsNumeric reports whether precision facets apply to p.
func (p Primitive) IsNumeric() bool {
	switch p {
	case Byte, SByte, Int16, Int32, Int64, Single, Double, Decimal:
		return true
	}
	return false
}

// IsTemporal reports whether p carries a fractional-seconds precision.
func (p Primitive) IsTemporal() bool {
	return p == DateTimeOffset || p == TimeOfDay || p == Duration
}

// IsSpatial reports whether p is a geography or geometry type.
func (p Primitive) IsSpatial() bool {
	return strings.HasPrefix(string(p), "Edm.Geography") || strings.HasPrefix(string(p), "Edm.Geometry")
}

// Dimension distinguishes round-earth from flat-earth spatial types.
type Dimension int

const (
	Geometry Dimension = iota
	Geography
)

func (d Dimension) String() string {
	if d == Geography {
		return "Geography"
	}
	return "Geometry"
}

// ParseDimension accepts "geography" or "geometry" in any case.
func ParseDimension(s string) (Dimension, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "geography":
		return Geography, true
	case "geometry", "":
		return Geometry, true
	}
	return Geometry, false
}

// SRID is a spatial reference identifier within a dimension.
// Value is a number or "variable".
type SRID struct {
	Dimension Dimension
	Value     string
}

func (s SRID) String() string {
	return s.Value
}

// Facets refine a type reference. Nil pointers mean "no constraint".
type Facets struct {
	Nullable  bool
	MaxLength *int
	Precision *int
	Scale     *int
	SRID      *SRID
}

// TypeRef is a resolved, immutable type reference.
type TypeRef struct {
	Kind       Kind
	Name       string // Edm primitive name or structured type FQN
	Collection bool
	Facets     Facets
}

// FQN returns the qualified type name; collections are wrapped as Collection(T).
func (t *TypeRef) FQN() string {
	if t == nil {
		return ""
	}
	if t.Collection {
		return "Collection(" + t.Name + ")"
	}
	return t.Name
}

// IsEntity reports whether the reference targets an entity type.
func (t *TypeRef) IsEntity() bool {
	return t != nil && t.Kind == KindEntity
}

// Hints are the declared facet annotations of a parameter or return type.
// Nil pointers and zero strings mean "not declared"; an explicit scale of 0 is
// a real constraint.
type Hints struct {
	Nullable  *bool  `yaml:"nullable,omitempty" mapstructure:"nullable"`
	MaxLength int    `yaml:"max_length,omitempty" mapstructure:"max_length"`
	Precision *int   `yaml:"precision,omitempty" mapstructure:"precision"`
	Scale     *int   `yaml:"scale,omitempty" mapstructure:"scale"`
	SRID      string `yaml:"srid,omitempty" mapstructure:"srid"`
	Dimension string `yaml:"dimension,omitempty" mapstructure:"dimension"`
}

func intPtr(v int) *int {
	return &v
}

func validSRID(s string) bool {
	if strings.EqualFold(s, "variable") {
		return true
	}
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0
}
