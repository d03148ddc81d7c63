package uri

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-odata/internal/naming"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/operation"
	"tidb-odata/internal/testutil"
)

func testModel(t *testing.T) Model {
	t.Helper()
	schema := testutil.Schema(t)
	return Model{Schema: schema, Catalog: testutil.Catalog(t, schema, nil)}
}

func TestParsePath_Kinds(t *testing.T) {
	model := testModel(t)
	tests := []struct {
		raw   string
		kinds []SegmentKind
	}{
		{"/People", []SegmentKind{KindEntitySet}},
		{"People(1)", []SegmentKind{KindEntitySet}},
		{"/People(1)/Name", []SegmentKind{KindEntitySet, KindPrimitiveProperty}},
		{"/People(1)/Name/$value", []SegmentKind{KindEntitySet, KindPrimitiveProperty, KindValue}},
		{"/People(1)/Address", []SegmentKind{KindEntitySet, KindComplexProperty}},
		{"/People(1)/Address/City", []SegmentKind{KindEntitySet, KindComplexProperty, KindPrimitiveProperty}},
		{"/People(1)/Roles", []SegmentKind{KindEntitySet, KindNavigationProperty}},
		{"/People(1)/Roles(4)/Person", []SegmentKind{KindEntitySet, KindNavigationProperty, KindNavigationProperty}},
		{"/People('1')/Roles/$count", []SegmentKind{KindEntitySet, KindNavigationProperty, KindCount}},
		{"/People/$count", []SegmentKind{KindEntitySet, KindCount}},
		{"/People(1)/Roles/$ref", []SegmentKind{KindEntitySet, KindNavigationProperty, KindRef}},
		{"/HeadCount()", []SegmentKind{KindFunction}},
		{"/TopEarners(minAge=30)", []SegmentKind{KindFunction}},
		{"/TopEarners(minAge=30)/$count", []SegmentKind{KindFunction, KindCount}},
		{"/Archive", []SegmentKind{KindAction}},
		{"/People(1)/RoleCount()", []SegmentKind{KindEntitySet, KindFunction}},
		{"/People(1)/shop.Promote", []SegmentKind{KindEntitySet, KindAction}},
		{"/People(1)/Roles(2)/Person/RoleCount()", []SegmentKind{KindEntitySet, KindNavigationProperty, KindNavigationProperty, KindFunction}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			path, err := ParsePath(tt.raw, model)
			require.NoError(t, err)
			assert.Equal(t, tt.kinds, path.Kinds())
		})
	}
}

func TestParsePath_Details(t *testing.T) {
	model := testModel(t)

	path, err := ParsePath("/People(7)/Roles", model)
	require.NoError(t, err)
	require.Equal(t, 2, path.Len())
	first := path.Segments[0]
	assert.Equal(t, "people", first.Table.Name)
	assert.False(t, first.Collection)
	assert.Equal(t, []KeyValue{{Column: "id", Value: int64(7)}}, first.Keys)

	nav, ok := path.Terminal()
	require.True(t, ok)
	assert.Equal(t, "roles", nav.Table.Name)
	assert.True(t, nav.Collection)
	require.NotNil(t, nav.Relationship)
	assert.True(t, nav.Relationship.ToMany)
	assert.Equal(t, "/People(7)/Roles", path.String())

	path, err = ParsePath("/Assignments(Project='o''hare',PersonId=3)", model)
	require.NoError(t, err)
	assert.Equal(t, []KeyValue{{Column: "person_id", Value: int64(3)}, {Column: "project", Value: "o'hare"}}, path.Segments[0].Keys)

	path, err = ParsePath("/TopEarners(minAge=30)", model)
	require.NoError(t, err)
	fn, _ := path.Terminal()
	assert.Equal(t, map[string]any{"minAge": int64(30)}, fn.Args)
	assert.True(t, fn.Collection)
	assert.Equal(t, "people", fn.Table.Name)
	assert.Equal(t, "TopEarners", fn.Operation.ExternalName())

	path, err = ParsePath("/People(1)/Address/Street", model)
	require.NoError(t, err)
	prop, _ := path.Terminal()
	require.NotNil(t, prop.Column)
	assert.Equal(t, "street", prop.Column.Name)
}

func TestParsePath_Errors(t *testing.T) {
	model := testModel(t)
	tests := []struct {
		raw    string
		status int
	}{
		{"/", http.StatusNotFound},
		{"/Widgets", http.StatusNotFound},
		{"/People(1)/Nope", http.StatusNotFound},
		{"/People/Name", http.StatusNotFound},
		{"/People(1)/$count", http.StatusBadRequest},
		{"/People(1)/Name/$count", http.StatusBadRequest},
		{"/People(1)/$value", http.StatusBadRequest},
		{"/People/$count/Name", http.StatusBadRequest},
		{"/People(1", http.StatusBadRequest},
		{"/People(1,2)", http.StatusBadRequest},
		{"/Assignments(3)", http.StatusBadRequest},
		{"/Assignments(PersonId=3,Other='x')", http.StatusBadRequest},
		{"/People(nope)", http.StatusBadRequest},
		{"/Roles(1)/Person(2)", http.StatusBadRequest},
		{"/TopEarners", http.StatusBadRequest},
		{"/TopEarners(bogus=1)", http.StatusBadRequest},
		{"/TopEarners(30)", http.StatusBadRequest},
		{"/Archive()", http.StatusBadRequest},
		{"/Archive/Name", http.StatusBadRequest},
		{"/Promote", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			path, err := ParsePath(tt.raw, model)
			require.Error(t, err)
			assert.Nil(t, path)
			assert.Equal(t, odataerr.KeyUnknownResource, odataerr.KeyOf(err))
			assert.Equal(t, tt.status, odataerr.StatusOf(err))
		})
	}
}

func TestSegmentKind_String(t *testing.T) {
	assert.Equal(t, "navigationProperty", KindNavigationProperty.String())
	assert.Equal(t, "ref", KindRef.String())
	assert.Equal(t, "unknown", SegmentKind(42).String())
}

func TestParsePath_BoundOperationNeedsMatchingBinding(t *testing.T) {
	_, err := ParsePath("/People/RoleCount()", testModel(t))
	assert.Equal(t, http.StatusNotFound, odataerr.StatusOf(err))
}

func TestParsePath_OperationWithoutImport(t *testing.T) {
	schema := testutil.Schema(t)
	registry := operation.NewRegistry()
	for _, spec := range testutil.Specs(testutil.Noop) {
		require.NoError(t, registry.Register(spec))
	}
	require.NoError(t, registry.Register(operation.Spec{
		Name:     "hidden",
		Kind:     operation.KindFunction,
		Return:   &operation.ReturnSpec{Type: "int64"},
		NoImport: true,
		Handler:  testutil.Noop,
	}))
	catalog, err := registry.Build(context.Background(), naming.Default(), schema)
	require.NoError(t, err)

	d, ok := catalog.Lookup("Hidden")
	require.True(t, ok)
	assert.False(t, d.HasImport())

	_, err = ParsePath("/Hidden()", Model{Schema: schema, Catalog: catalog})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, odataerr.StatusOf(err))
	assert.Equal(t, odataerr.KeyUnknownResource, odataerr.KeyOf(err))

	_, err = ParsePath("/HeadCount()", Model{Schema: schema, Catalog: catalog})
	assert.NoError(t, err)
}
