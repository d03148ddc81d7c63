package planner

import (
	"net/http"
	"strings"

	"tidb-odata/internal/filter"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/sqlutil"
)

// EmbeddedSeparator joins a complex property and its member in result column
// names, e.g. "Address.City".
const EmbeddedSeparator = "."

// Projection is one selected column and the result name it is scanned under.
type Projection struct {
	Column string
	Name   string
}

func (p Projection) expr(alias string) string {
	return sqlutil.QualifiedColumn(alias, p.Column) + " AS " + sqlutil.QuoteIdentifier(p.Name)
}

// ColumnResolver resolves filter and order members against a table alias.
// Members are either a property or a complex property and one of its members.
type ColumnResolver struct {
	Schema *introspection.Schema
	Table  *introspection.Table
	Alias  string
}

var _ filter.ColumnResolver = ColumnResolver{}

// ResolveColumn implements filter.ColumnResolver.
func (r ColumnResolver) ResolveColumn(path []string) (string, error) {
	column, err := r.column(path)
	if err != nil {
		return "", err
	}
	return sqlutil.QualifiedColumn(r.Alias, column), nil
}

func (r ColumnResolver) column(path []string) (string, error) {
	switch len(path) {
	case 1:
		if col, ok := r.Table.Property(path[0]); ok {
			return col.Name, nil
		}
	case 2:
		if r.Schema == nil {
			break
		}
		if emb, ok := r.Schema.Embedded(r.Table, path[0]); ok {
			for _, p := range emb.Type.Properties {
				if p.Name == path[1] {
					return p.Column, nil
				}
			}
		}
	}
	return "", odataerr.UnsupportedFilter(odataerr.KeyUnknownFilterMember, http.StatusBadRequest, strings.Join(path, "/"))
}

// allColumns projects every property of table, with embedded complex members
// named under their complex property.
func allColumns(schema *introspection.Schema, table *introspection.Table) []Projection {
	embeddedNames := embeddedColumnNames(schema, table)
	out := make([]Projection, 0, len(table.Columns))
	for _, col := range table.Columns {
		if name, ok := embeddedNames[col.Name]; ok {
			out = append(out, Projection{Column: col.Name, Name: name})
			continue
		}
		out = append(out, Projection{Column: col.Name, Name: col.PropertyName})
	}
	return out
}

func embeddedColumnNames(schema *introspection.Schema, table *introspection.Table) map[string]string {
	names := map[string]string{}
	if schema == nil {
		return names
	}
	embedded := schema.EmbeddedOf(table)
	for i := range embedded {
		for _, p := range embeddedColumns(&embedded[i]) {
			names[p.Column] = p.Name
		}
	}
	return names
}

// embeddedColumns projects the members of one complex property.
func embeddedColumns(emb *introspection.Embedded) []Projection {
	out := make([]Projection, 0, len(emb.Type.Properties))
	for _, p := range emb.Type.Properties {
		out = append(out, Projection{Column: p.Column, Name: emb.Name + EmbeddedSeparator + p.Name})
	}
	return out
}

func keyColumns(table *introspection.Table) []Projection {
	keys := table.KeyColumns()
	out := make([]Projection, 0, len(keys))
	for _, col := range keys {
		out = append(out, Projection{Column: col.Name, Name: col.PropertyName})
	}
	return out
}

// selectColumns projects the $select list. Key columns are always included.
func selectColumns(schema *introspection.Schema, table *introspection.Table, selected []string) ([]Projection, error) {
	out := keyColumns(table)
	seen := make(map[string]bool, len(out))
	for _, p := range out {
		seen[p.Name] = true
	}
	add := func(p Projection) {
		if !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	for _, name := range selected {
		if col, ok := table.Property(name); ok {
			add(Projection{Column: col.Name, Name: col.PropertyName})
			continue
		}
		if schema != nil {
			if emb, ok := schema.Embedded(table, name); ok {
				for _, p := range embeddedColumns(emb) {
					add(p)
				}
				continue
			}
		}
		return nil, odataerr.BadRequest(odataerr.KeyInvalidQueryOption, "$select", name)
	}
	return out, nil
}
