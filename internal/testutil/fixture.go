// Package testutil builds the shared entity model and operation catalog used by
// package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/naming"
	"tidb-odata/internal/operation"
)

// Namespace is the schema namespace of the fixture model.
const Namespace = "shop"

// Tables returns a people/roles model. Person carries an embedded Address and
// roles.person_id references people.id.
func Tables() []introspection.Table {
	return []introspection.Table{
		{
			Name: "people",
			Columns: []introspection.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", IsPrimaryKey: true},
				{Name: "name", DataType: "varchar", ColumnType: "varchar(60)", IsNullable: true},
				{Name: "age", DataType: "int", ColumnType: "int(11)", IsNullable: true},
				{Name: "street", DataType: "varchar", ColumnType: "varchar(120)", IsNullable: true},
				{Name: "city", DataType: "varchar", ColumnType: "varchar(60)", IsNullable: true},
			},
		},
		{
			Name: "roles",
			Columns: []introspection.Column{
				{Name: "id", DataType: "bigint", ColumnType: "bigint(20)", IsPrimaryKey: true},
				{Name: "person_id", DataType: "bigint", ColumnType: "bigint(20)"},
				{Name: "role_name", DataType: "varchar", ColumnType: "varchar(32)"},
			},
			ForeignKeys: []introspection.ForeignKey{
				{ColumnName: "person_id", ReferencedTable: "people", ReferencedColumn: "id", ConstraintName: "roles_ibfk_1", OrdinalPosition: 1},
			},
		},
		{
			Name: "assignments",
			Columns: []introspection.Column{
				{Name: "person_id", DataType: "bigint", ColumnType: "bigint(20)", IsPrimaryKey: true},
				{Name: "project", DataType: "varchar", ColumnType: "varchar(32)", IsPrimaryKey: true},
			},
		},
	}
}

// Schema builds the fixture entity model.
func Schema(t testing.TB) *introspection.Schema {
	t.Helper()
	schema, err := introspection.NewSchema(Namespace, Tables(), naming.Default(), introspection.ComplexType{
		Name:     "Address",
		Table:    "people",
		Property: "Address",
		Properties: []introspection.ComplexProperty{
			{Column: "street"},
			{Column: "city"},
		},
	})
	require.NoError(t, err)
	return schema
}

// Specs returns the fixture operations:
//   - TopEarners(minAge) -> []Person, unbound function
//   - HeadCount() -> int64, unbound function
//   - Promote(person) -> []Role, action bound to Person with path Person/Roles
//   - RoleCount(person) -> int64, function bound to Person
//   - Archive(), unbound action without result
func Specs(handler operation.Handler) []operation.Spec {
	if handler == nil {
		handler = Noop
	}
	return []operation.Spec{
		{
			Name:       "topEarners",
			Kind:       operation.KindFunction,
			Parameters: []operation.ParameterSpec{{Name: "minAge", Type: "int32"}},
			Return:     &operation.ReturnSpec{Type: "[]Person"},
			Handler:    handler,
		},
		{
			Name:    "headCount",
			Kind:    operation.KindFunction,
			Return:  &operation.ReturnSpec{Type: "int64"},
			Handler: handler,
		},
		{
			Name:          "promote",
			Bound:         true,
			EntitySetPath: "person/Roles",
			Parameters:    []operation.ParameterSpec{{Name: "person", Type: "Person"}, {Name: "level", Type: "int32"}},
			Return:        &operation.ReturnSpec{Type: "[]Role"},
			Handler:       handler,
		},
		{
			Name:       "roleCount",
			Kind:       operation.KindFunction,
			Bound:      true,
			Parameters: []operation.ParameterSpec{{Name: "person", Type: "Person"}},
			Return:     &operation.ReturnSpec{Type: "int64"},
			Handler:    handler,
		},
		{
			Name:    "archive",
			Handler: handler,
		},
	}
}

// Catalog builds the fixture operations against schema.
func Catalog(t testing.TB, schema *introspection.Schema, handler operation.Handler) *operation.Catalog {
	t.Helper()
	registry := operation.NewRegistry()
	for _, spec := range Specs(handler) {
		require.NoError(t, registry.Register(spec))
	}
	catalog, err := registry.Build(context.Background(), naming.Default(), schema)
	require.NoError(t, err)
	return catalog
}

// Noop is a handler that returns no result.
func Noop(context.Context, any, dbexec.QueryExecutor, map[string]any) (any, error) {
	return nil, nil
}
