package introspection

import (
	"context"
	"fmt"
	"strings"

	"tidb-odata/internal/edmtype"
	"tidb-odata/internal/naming"
)

// ComplexProperty is one member of a complex type. When the complex type is
// embedded in a table, Column names the backing column.
type ComplexProperty struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column"`
	Type   *edmtype.TypeRef
}

// ComplexType is a structured type without a key. A complex type with a Table is
// embedded in that table's entity type as the property named Property.
type ComplexType struct {
	Name       string            `yaml:"name"`
	Table      string            `yaml:"table,omitempty"`
	Property   string            `yaml:"property,omitempty"`
	Properties []ComplexProperty `yaml:"properties"`
}

// Embedded is a complex-valued property of an entity type.
type Embedded struct {
	Name string
	Type *ComplexType
}

// Schema is the immutable entity model built from introspection.
// It is safe for concurrent reads once returned by NewSchema.
type Schema struct {
	Namespace    string
	Tables       []Table
	ComplexTypes []ComplexType

	embedded     map[string][]Embedded
	byTable      map[string]int
	byEntityType map[string]int
	byEntitySet  map[string]int
	byComplex    map[string]int
}

// NewSchema names tables, columns and relationships and indexes the result.
func NewSchema(namespace string, tables []Table, namer *naming.Namer, complexTypes ...ComplexType) (*Schema, error) {
	if namer == nil {
		namer = naming.Default()
	}
	s := &Schema{
		Namespace:    namespace,
		Tables:       tables,
		ComplexTypes: complexTypes,
		embedded:     make(map[string][]Embedded),
		byTable:      make(map[string]int, len(tables)),
		byEntityType: make(map[string]int, len(tables)),
		byEntitySet:  make(map[string]int, len(tables)),
		byComplex:    make(map[string]int, len(complexTypes)),
	}

	for i := range s.Tables {
		table := &s.Tables[i]
		table.EntityTypeName = namer.RegisterEntityType(table.Name)
		table.EntitySetName = namer.RegisterEntitySet(table.Name)
		for j := range table.Columns {
			col := &table.Columns[j]
			col.PropertyName = namer.RegisterProperty(table.EntityTypeName, col.Name)
			if col.Type == nil {
				col.Type = edmtype.FromSQL(col.DataType, col.ColumnType, col.IsNullable)
			}
		}
		s.byTable[table.Name] = i
		s.byEntityType[table.EntityTypeName] = i
		s.byEntitySet[table.EntitySetName] = i
	}

	for i := range s.ComplexTypes {
		if err := s.addComplexType(i, namer); err != nil {
			return nil, err
		}
	}

	buildRelationships(context.Background(), s.Tables, namer)
	return s, nil
}

func (s *Schema) addComplexType(i int, namer *naming.Namer) error {
	ct := &s.ComplexTypes[i]
	if ct.Name == "" {
		return fmt.Errorf("complex type %d has no name", i)
	}
	if _, ok := s.byEntityType[ct.Name]; ok {
		return fmt.Errorf("complex type %s collides with an entity type", ct.Name)
	}
	if _, ok := s.byComplex[ct.Name]; ok {
		return fmt.Errorf("duplicate complex type %s", ct.Name)
	}
	s.byComplex[ct.Name] = i

	if ct.Table == "" {
		for _, p := range ct.Properties {
			if p.Type == nil {
				return fmt.Errorf("complex type %s: property %s has no type", ct.Name, p.Name)
			}
		}
		return nil
	}

	table, ok := s.TableByName(ct.Table)
	if !ok {
		return fmt.Errorf("complex type %s: unknown table %s", ct.Name, ct.Table)
	}
	for j := range ct.Properties {
		p := &ct.Properties[j]
		col, ok := table.Column(p.Column)
		if !ok {
			return fmt.Errorf("complex type %s: unknown column %s.%s", ct.Name, ct.Table, p.Column)
		}
		if p.Name == "" {
			p.Name = namer.PropertyName(col.Name)
		}
		if p.Type == nil {
			p.Type = col.Type
		}
	}
	name := ct.Property
	if name == "" {
		name = ct.Name
	}
	name = namer.RegisterNavigation(table.EntityTypeName, name, "complex:"+ct.Name, true)
	s.embedded[table.Name] = append(s.embedded[table.Name], Embedded{Name: name, Type: ct})
	return nil
}

// QualifiedName prefixes name with the schema namespace.
func (s *Schema) QualifiedName(name string) string {
	if s.Namespace == "" {
		return name
	}
	return s.Namespace + "." + name
}

func (s *Schema) localName(name string) string {
	if s.Namespace != "" {
		return strings.TrimPrefix(name, s.Namespace+".")
	}
	return name
}

// LookupStructured resolves an entity or complex type name, qualified or not.
func (s *Schema) LookupStructured(name string) (string, edmtype.Kind, bool) {
	local := s.localName(name)
	if _, ok := s.byEntityType[local]; ok {
		return s.QualifiedName(local), edmtype.KindEntity, true
	}
	if _, ok := s.byComplex[local]; ok {
		return s.QualifiedName(local), edmtype.KindComplex, true
	}
	return "", 0, false
}

// TableByName returns the table with the given SQL name.
func (s *Schema) TableByName(name string) (*Table, bool) {
	i, ok := s.byTable[name]
	if !ok {
		return nil, false
	}
	return &s.Tables[i], true
}

// EntityType returns the table published under the given entity type name.
func (s *Schema) EntityType(name string) (*Table, bool) {
	i, ok := s.byEntityType[s.localName(name)]
	if !ok {
		return nil, false
	}
	return &s.Tables[i], true
}

// EntitySet returns the table published under the given entity set name.
func (s *Schema) EntitySet(name string) (*Table, bool) {
	i, ok := s.byEntitySet[name]
	if !ok {
		return nil, false
	}
	return &s.Tables[i], true
}

// ComplexType returns a registered complex type.
func (s *Schema) ComplexType(name string) (*ComplexType, bool) {
	i, ok := s.byComplex[s.localName(name)]
	if !ok {
		return nil, false
	}
	return &s.ComplexTypes[i], true
}

// Embedded returns the complex-valued property name of table, if any.
func (s *Schema) Embedded(table *Table, name string) (*Embedded, bool) {
	for i, e := range s.embedded[table.Name] {
		if e.Name == name {
			return &s.embedded[table.Name][i], true
		}
	}
	return nil, false
}

// EmbeddedOf lists the complex-valued properties of table.
func (s *Schema) EmbeddedOf(table *Table) []Embedded {
	return s.embedded[table.Name]
}

// Navigation returns the named navigation property of table and its target table.
func (s *Schema) Navigation(table *Table, name string) (*Relationship, *Table, bool) {
	for i := range table.Relationships {
		rel := &table.Relationships[i]
		if rel.Name != name {
			continue
		}
		target, ok := s.TableByName(rel.RemoteTable)
		if !ok {
			return nil, nil, false
		}
		return rel, target, true
	}
	return nil, nil, false
}

// Navigate follows a chain of navigation properties from an entity type and
// returns the qualified target entity type. toMany reports whether any hop is
// collection-valued.
func (s *Schema) Navigate(entityType string, path []string) (string, bool, error) {
	table, ok := s.EntityType(entityType)
	if !ok {
		return "", false, fmt.Errorf("unknown entity type %s", entityType)
	}
	toMany := false
	for _, segment := range path {
		rel, target, ok := s.Navigation(table, segment)
		if !ok {
			return "", false, fmt.Errorf("%s has no navigation property %s", table.EntityTypeName, segment)
		}
		toMany = toMany || rel.ToMany
		table = target
	}
	return s.QualifiedName(table.EntityTypeName), toMany, nil
}

// Column returns the column with the given SQL name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Property returns the column published under the given property name.
func (t *Table) Property(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].PropertyName == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// KeyColumns returns the primary key columns in declaration order.
func (t *Table) KeyColumns() []Column {
	var keys []Column
	for _, col := range t.Columns {
		if col.IsPrimaryKey {
			keys = append(keys, col)
		}
	}
	return keys
}
