// Package uri resolves OData resource paths and system query options against
// the entity model and the operation catalog.
package uri

import (
	"strings"

	"tidb-odata/internal/introspection"
	"tidb-odata/internal/operation"
)

// SegmentKind classifies a resource path segment.
type SegmentKind int

const (
	KindEntitySet SegmentKind = iota
	KindSingleton
	KindNavigationProperty
	KindPrimitiveProperty
	KindComplexProperty
	KindValue
	KindCount
	KindFunction
	KindAction
	KindRef
)

var kindNames = [...]string{
	KindEntitySet:          "entitySet",
	KindSingleton:          "singleton",
	KindNavigationProperty: "navigationProperty",
	KindPrimitiveProperty:  "primitiveProperty",
	KindComplexProperty:    "complexProperty",
	KindValue:              "value",
	KindCount:              "count",
	KindFunction:           "function",
	KindAction:             "action",
	KindRef:                "ref",
}

func (k SegmentKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// KeyValue is one component of a key predicate.
type KeyValue struct {
	Column string
	Value  any
}

// Segment is one resolved step of a resource path. Which of the model
// references are set depends on Kind.
type Segment struct {
	Kind SegmentKind
	Name string
	// Keys is the key predicate, ordered like the table's key columns.
	Keys []KeyValue
	// Args holds function parameters given inline, by parameter name.
	Args map[string]any
	// Collection reports whether the resource addressed so far is a collection.
	Collection bool

	// Table is the entity table in scope after this segment.
	Table        *introspection.Table
	Relationship *introspection.Relationship
	Column       *introspection.Column
	Embedded     *introspection.Embedded
	Operation    *operation.Descriptor
}

// Path is a resolved resource path.
type Path struct {
	Raw      string
	Segments []Segment
}

// Len returns the number of segments.
func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Segments)
}

// Terminal returns the last segment.
func (p *Path) Terminal() (Segment, bool) {
	if p.Len() == 0 {
		return Segment{}, false
	}
	return p.Segments[len(p.Segments)-1], true
}

// Kinds lists the segment kinds in order.
func (p *Path) Kinds() []SegmentKind {
	kinds := make([]SegmentKind, 0, p.Len())
	for _, s := range p.Segments {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func (p *Path) String() string {
	if p == nil {
		return ""
	}
	if p.Raw != "" {
		return p.Raw
	}
	names := make([]string, 0, len(p.Segments))
	for _, s := range p.Segments {
		names = append(names, s.Name)
	}
	return "/" + strings.Join(names, "/")
}
