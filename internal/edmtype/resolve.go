package edmtype

import (
	"errors"
	"fmt"
	"strings"

	"tidb-odata/internal/odataerr"
)

// ErrElementNotGiven marks a collection raw type declared without an element type.
var ErrElementNotGiven = errors.New("collection element type not given")

// TagVoid declares "no return value".
const TagVoid = "void"

// RawType is a declared, language-neutral type tag such as "int32",
// "[]string", "geo.point", "Person" or "void".
type RawType struct {
	Tag        string
	Collection bool
}

// ParseRaw parses a raw type tag. A bare "[]" is a collection whose element is not given.
func ParseRaw(s string) RawType {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[]") {
		return RawType{Tag: strings.TrimSpace(s[2:]), Collection: true}
	}
	return RawType{Tag: s}
}

func (r RawType) String() string {
	if r.Collection {
		return "[]" + r.Tag
	}
	return r.Tag
}

// IsVoid reports whether r declares no value.
func (r RawType) IsVoid() bool {
	return !r.Collection && (r.Tag == "" || r.Tag == TagVoid)
}

// StructuredTypes resolves complex and entity type names to their qualified names.
type StructuredTypes interface {
	LookupStructured(name string) (fqn string, kind Kind, ok bool)
}

var primitiveTags = map[string]Primitive{
	"bool":      Boolean,
	"boolean":   Boolean,
	"uint8":     Byte,
	"byte":      Byte,
	"int8":      SByte,
	"int16":     Int16,
	"int32":     Int32,
	"int":       Int64,
	"int64":     Int64,
	"float32":   Single,
	"float64":   Double,
	"decimal":   Decimal,
	"string":    String,
	"bytes":     Binary,
	"time":      DateTimeOffset,
	"date":      Date,
	"timeofday": TimeOfDay,
	"duration":  Duration,
	"uuid":      Guid,
}

var spatialTags = map[string]string{
	"geo.point":           "Point",
	"geo.linestring":      "LineString",
	"geo.polygon":         "Polygon",
	"geo.multipoint":      "MultiPoint",
	"geo.multilinestring": "MultiLineString",
	"geo.multipolygon":    "MultiPolygon",
	"geo.collection":      "Collection",
}

// IsPrimitiveTag reports whether tag names a primitive or spatial type.
func IsPrimitiveTag(tag string) bool {
	tag = strings.ToLower(tag)
	if _, ok := primitiveTags[tag]; ok {
		return true
	}
	_, ok := spatialTags[tag]
	return ok
}

// Resolve turns a raw type plus declared hints into a TypeRef.
// A void raw type yields (nil, nil).
func Resolve(raw RawType, hints Hints, types StructuredTypes) (*TypeRef, error) {
	if raw.IsVoid() {
		return nil, nil
	}
	if raw.Collection && raw.Tag == "" {
		return nil, odataerr.Wrap(ErrElementNotGiven, odataerr.KindModelValidation,
			odataerr.KeyUnsupportedParameterType, 500, raw.String())
	}
	if raw.Tag == TagVoid {
		return nil, odataerr.Model(odataerr.KeyUnsupportedParameterType, raw.String())
	}

	ref, err := resolveElement(raw.Tag, hints, types)
	if err != nil {
		return nil, err
	}
	ref.Collection = raw.Collection
	return ref, nil
}

func resolveElement(tag string, hints Hints, types StructuredTypes) (*TypeRef, error) {
	nullable := true
	if hints.Nullable != nil {
		nullable = *hints.Nullable
	}
	lower := strings.ToLower(tag)

	if p, ok := primitiveTags[lower]; ok {
		ref := &TypeRef{Kind: KindPrimitive, Name: string(p), Facets: Facets{Nullable: nullable}}
		applyScalarFacets(ref, p, hints)
		return ref, nil
	}

	if shape, ok := spatialTags[lower]; ok {
		dim, ok := ParseDimension(hints.Dimension)
		if !ok {
			return nil, odataerr.Modelf(odataerr.KeyUnsupportedParameterType, "unknown spatial dimension %q", hints.Dimension)
		}
		ref := &TypeRef{
			Kind:   KindPrimitive,
			Name:   "Edm." + dim.String() + shape,
			Facets: Facets{Nullable: nullable},
		}
		if hints.SRID != "" {
			if !validSRID(hints.SRID) {
				return nil, odataerr.Modelf(odataerr.KeyUnsupportedParameterType, "invalid SRID %q", hints.SRID)
			}
			ref.Facets.SRID = &SRID{Dimension: dim, Value: hints.SRID}
		}
		return ref, nil
	}

	if types != nil {
		if fqn, kind, ok := types.LookupStructured(tag); ok {
			return &TypeRef{Kind: kind, Name: fqn, Facets: Facets{Nullable: nullable}}, nil
		}
	}
	return nil, odataerr.Wrap(fmt.Errorf("type %q is neither primitive, spatial nor structured", tag),
		odataerr.KindModelValidation, odataerr.KeyUnsupportedParameterType, 500, tag)
}

func applyScalarFacets(ref *TypeRef, p Primitive, hints Hints) {
	switch {
	case p == Decimal:
		if hints.Precision != nil {
			ref.Facets.Precision = intPtr(*hints.Precision)
		}
		if hints.Scale != nil {
			ref.Facets.Scale = intPtr(*hints.Scale)
		}
	case p.IsTemporal():
		if hints.Precision != nil {
			ref.Facets.Precision = intPtr(*hints.Precision)
		}
	case p == String || p == Binary:
		if hints.MaxLength > 0 {
			ref.Facets.MaxLength = intPtr(hints.MaxLength)
		}
	}
}
