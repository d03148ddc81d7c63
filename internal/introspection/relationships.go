package introspection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"tidb-odata/internal/naming"
)

// constraint is a foreign key grouped across its columns in ordinal order.
type constraint struct {
	Name              string
	ReferencedTable   string
	Columns           []string
	ReferencedColumns []string
}

// constraints groups a table's foreign key rows by constraint name.
func constraints(table Table) []constraint {
	order := []string{}
	grouped := map[string]*constraint{}
	rows := append([]ForeignKey(nil), table.ForeignKeys...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ConstraintName != rows[j].ConstraintName {
			return rows[i].ConstraintName < rows[j].ConstraintName
		}
		return rows[i].OrdinalPosition < rows[j].OrdinalPosition
	})
	for i, fk := range rows {
		key := fk.ConstraintName
		if key == "" {
			key = fmt.Sprintf("__unnamed_%d", i)
		}
		c, ok := grouped[key]
		if !ok {
			c = &constraint{Name: fk.ConstraintName, ReferencedTable: fk.ReferencedTable}
			grouped[key] = c
			order = append(order, key)
		}
		c.Columns = append(c.Columns, fk.ColumnName)
		c.ReferencedColumns = append(c.ReferencedColumns, fk.ReferencedColumn)
	}
	out := make([]constraint, 0, len(order))
	for _, key := range order {
		out = append(out, *grouped[key])
	}
	return out
}

// buildRelationships creates navigation properties for both directions of every foreign key.
// Many-to-one navigations are named after the FK column, one-to-many after the referencing
// entity set, prefixed with the FK column when a table references the same target twice.
func buildRelationships(ctx context.Context, tables []Table, namer *naming.Namer) {
	_, span := startSpan(ctx, "introspection.build_relationships")
	defer span.End()

	byName := make(map[string]*Table, len(tables))
	fkCount := make(map[string]map[string]int) // source -> target -> count
	for i := range tables {
		byName[tables[i].Name] = &tables[i]
		for _, c := range constraints(tables[i]) {
			if fkCount[tables[i].Name] == nil {
				fkCount[tables[i].Name] = make(map[string]int)
			}
			fkCount[tables[i].Name][c.ReferencedTable]++
		}
	}

	for i := range tables {
		source := &tables[i]
		if source.IsView {
			continue
		}
		for _, c := range constraints(*source) {
			target, ok := byName[c.ReferencedTable]
			if !ok || len(c.Columns) == 0 || len(c.Columns) != len(c.ReferencedColumns) {
				slog.Default().Warn("skipping unmappable foreign key",
					slog.String("table", source.Name),
					slog.String("constraint", c.Name),
					slog.String("referenced_table", c.ReferencedTable),
				)
				continue
			}

			toOne := namer.RegisterNavigation(source.EntityTypeName, namer.ManyToOneName(c.Columns[0]), "fk:"+c.Name, true)
			source.Relationships = append(source.Relationships, Relationship{
				Name:          toOne,
				RemoteTable:   target.Name,
				LocalColumns:  append([]string(nil), c.Columns...),
				RemoteColumns: append([]string(nil), c.ReferencedColumns...),
			})

			isOnlyFK := fkCount[source.Name][target.Name] == 1
			toMany := namer.RegisterNavigation(target.EntityTypeName, namer.OneToManyName(source.Name, c.Columns[0], isOnlyFK), "fk:"+c.Name, false)
			target.Relationships = append(target.Relationships, Relationship{
				Name:          toMany,
				ToMany:        true,
				RemoteTable:   source.Name,
				LocalColumns:  append([]string(nil), c.ReferencedColumns...),
				RemoteColumns: append([]string(nil), c.Columns...),
			})
		}
	}
}
