package planner

import (
	"net/http"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"tidb-odata/internal/introspection"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/sqlutil"
	"tidb-odata/internal/uri"
)

// scope is the set of rows addressed by a path prefix: one aliased table and
// the predicates restricting it.
type scope struct {
	table *introspection.Table
	alias string
	where []sq.Sqlizer
	// terminal is the segment past the last entity hop that shapes the result.
	terminal *uri.Segment
}

func (s *scope) from() string {
	return sqlutil.QuoteIdentifier(s.table.Name) + " AS " + sqlutil.QuoteIdentifier(s.alias)
}

func (s *scope) apply(builder sq.SelectBuilder) sq.SelectBuilder {
	for _, pred := range s.where {
		builder = builder.Where(pred)
	}
	return builder
}

// resolveScope walks an entity path. Each navigation hop restricts the target
// table with an IN subquery over the previous hop's rows.
func resolveScope(path *uri.Path) (*scope, error) {
	if path.Len() == 0 {
		return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, "empty path")
	}
	var cur *scope
	depth := 0
	for i := range path.Segments {
		seg := &path.Segments[i]
		switch seg.Kind {
		case uri.KindEntitySet, uri.KindSingleton:
			if cur != nil || seg.Table == nil {
				return nil, unsupportedSegment(seg)
			}
			cur = &scope{table: seg.Table, alias: aliasFor(depth)}
			cur.where = keyPredicates(cur.alias, seg.Keys)
		case uri.KindNavigationProperty:
			if cur == nil || seg.Relationship == nil {
				return nil, unsupportedSegment(seg)
			}
			depth++
			next := &scope{table: seg.Table, alias: aliasFor(depth)}
			sub := cur.apply(sq.Select(qualifiedColumns(cur.alias, seg.Relationship.LocalColumns)...).From(cur.from()))
			next.where = append(next.where, inSubquery(qualifiedColumns(next.alias, seg.Relationship.RemoteColumns), sub))
			next.where = append(next.where, keyPredicates(next.alias, seg.Keys)...)
			cur = next
		case uri.KindPrimitiveProperty, uri.KindComplexProperty, uri.KindValue, uri.KindCount, uri.KindRef:
			if cur == nil {
				return nil, unsupportedSegment(seg)
			}
			if seg.Kind != uri.KindCount && seg.Kind != uri.KindValue {
				cur.terminal = seg
			}
		default:
			return nil, unsupportedSegment(seg)
		}
	}
	return cur, nil
}

func keyPredicates(alias string, keys []uri.KeyValue) []sq.Sqlizer {
	if len(keys) == 0 {
		return nil
	}
	eq := sq.Eq{}
	for _, k := range keys {
		eq[sqlutil.QualifiedColumn(alias, k.Column)] = k.Value
	}
	return []sq.Sqlizer{eq}
}

func qualifiedColumns(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = sqlutil.QualifiedColumn(alias, col)
	}
	return out
}

// inSubquery renders "(a, b) IN (SELECT ...)"; a single column is left unwrapped.
func inSubquery(columns []string, sub sq.SelectBuilder) sq.Sqlizer {
	left := columns[0]
	if len(columns) > 1 {
		left = "(" + strings.Join(columns, ", ") + ")"
	}
	return sq.Expr(left+" IN (?)", sub)
}

func unsupportedSegment(seg *uri.Segment) error {
	return odataerr.New(odataerr.KindUnsupportedResourceType, odataerr.KeyUnsupportedResourceType, http.StatusNotImplemented, seg.Kind.String(), seg.Name)
}
