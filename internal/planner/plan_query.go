package planner

import (
	sq "github.com/Masterminds/squirrel"

	"tidb-odata/internal/filter"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/sqlutil"
	"tidb-odata/internal/uri"
)

// Plan is a planned read: the statement and the result names it scans into.
type Plan struct {
	SQLQuery
	Columns []string
	// Single reports whether the path addresses at most one entity.
	Single bool
}

// PlanSelect builds the statement reading the rows addressed by q.
func (p *Planner) PlanSelect(schema *introspection.Schema, q Query) (Plan, error) {
	s, err := resolveScope(q.Path)
	if err != nil {
		return Plan{}, err
	}
	projections, err := p.projections(schema, s, q.Select)
	if err != nil {
		return Plan{}, err
	}

	columns := make([]string, len(projections))
	names := make([]string, len(projections))
	for i, proj := range projections {
		columns[i] = proj.expr(s.alias)
		names[i] = proj.Name
	}

	builder := s.apply(sq.Select(columns...).From(s.from()))
	if builder, err = p.applyFilter(schema, s, builder, q.Filter); err != nil {
		return Plan{}, err
	}
	clauses, err := orderByClauses(schema, s, q.OrderBy)
	if err != nil {
		return Plan{}, err
	}
	builder = builder.OrderBy(clauses...)

	single := isSingle(q.Path)
	if !single {
		if top := p.limit(q.Top); top > 0 {
			builder = builder.Limit(uint64(top))
		}
		if q.Skip > 0 {
			builder = builder.Offset(uint64(q.Skip))
		}
	}

	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return Plan{}, err
	}
	return Plan{SQLQuery: SQLQuery{SQL: query, Args: args}, Columns: names, Single: single}, nil
}

// PlanCount builds the count-only variant of q. Paging and ordering do not apply.
func (p *Planner) PlanCount(schema *introspection.Schema, q Query) (SQLQuery, error) {
	s, err := resolveScope(q.Path)
	if err != nil {
		return SQLQuery{}, err
	}
	builder := s.apply(sq.Select("COUNT(*)").From(s.from()))
	if builder, err = p.applyFilter(schema, s, builder, q.Filter); err != nil {
		return SQLQuery{}, err
	}
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func (p *Planner) applyFilter(schema *introspection.Schema, s *scope, builder sq.SelectBuilder, node filter.Node) (sq.SelectBuilder, error) {
	if node == nil {
		return builder, nil
	}
	resolver := ColumnResolver{Schema: schema, Table: s.table, Alias: s.alias}
	pred, err := filter.NewConverter(resolver).Convert(node)
	if err != nil {
		return builder, err
	}
	return builder.Where(pred), nil
}

func (p *Planner) projections(schema *introspection.Schema, s *scope, selected []string) ([]Projection, error) {
	if seg := s.terminal; seg != nil {
		switch seg.Kind {
		case uri.KindRef:
			if len(s.table.KeyColumns()) == 0 {
				return nil, ErrNoPrimaryKey
			}
			return keyColumns(s.table), nil
		case uri.KindPrimitiveProperty:
			if seg.Column == nil {
				return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, seg.Name)
			}
			name := seg.Column.PropertyName
			if seg.Embedded != nil {
				name = seg.Embedded.Name + EmbeddedSeparator + seg.Name
			}
			return []Projection{{Column: seg.Column.Name, Name: name}}, nil
		case uri.KindComplexProperty:
			return embeddedColumns(seg.Embedded), nil
		}
	}
	if len(selected) > 0 {
		return selectColumns(schema, s.table, selected)
	}
	return allColumns(schema, s.table), nil
}

// orderByClauses renders $orderby, then the key columns so paging is stable.
func orderByClauses(schema *introspection.Schema, s *scope, items []uri.OrderItem) ([]string, error) {
	resolver := ColumnResolver{Schema: schema, Table: s.table, Alias: s.alias}
	clauses := make([]string, 0, len(items)+1)
	seen := map[string]bool{}
	for _, item := range items {
		column, err := resolver.column(splitMember(item.Property))
		if err != nil {
			return nil, odataerr.BadRequest(odataerr.KeyInvalidQueryOption, "$orderby", item.Property)
		}
		direction := " ASC"
		if item.Descending {
			direction = " DESC"
		}
		seen[column] = true
		clauses = append(clauses, sqlutil.QualifiedColumn(s.alias, column)+direction)
	}
	for _, key := range s.table.KeyColumns() {
		if !seen[key.Name] {
			clauses = append(clauses, sqlutil.QualifiedColumn(s.alias, key.Name)+" ASC")
		}
	}
	return clauses, nil
}

func splitMember(property string) []string {
	return filter.Path(property).Path
}

// isSingle reports whether the last entity hop carries a key or follows a
// single-valued navigation.
func isSingle(path *uri.Path) bool {
	single := false
	for _, seg := range path.Segments {
		switch seg.Kind {
		case uri.KindEntitySet, uri.KindSingleton, uri.KindNavigationProperty:
			single = !seg.Collection
		}
	}
	return single
}
