package dispatch

import (
	"context"
	"database/sql/driver"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/edmtype"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/naming"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/operation"
	"tidb-odata/internal/paging"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/testutil"
	"tidb-odata/internal/uri"
)

const peopleSelect = "SELECT `t0`.`id` AS `Id`, `t0`.`name` AS `Name`, `t0`.`age` AS `Age`, " +
	"`t0`.`street` AS `Address.Street`, `t0`.`city` AS `Address.City` FROM `people` AS `t0`"

var peopleColumns = []string{"Id", "Name", "Age", "Address.Street", "Address.City"}

type harness struct {
	schema *introspection.Schema
	model  uri.Model
	mock   sqlmock.Sqlmock
	exec   dbexec.QueryExecutor
	calls  []map[string]any
}

func newHarness(t *testing.T, result any) *harness {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{mock: mock, exec: dbexec.NewStandardExecutor(db)}
	h.schema = testutil.Schema(t)
	handler := func(_ context.Context, _ any, _ dbexec.QueryExecutor, args map[string]any) (any, error) {
		h.calls = append(h.calls, args)
		return result, nil
	}
	h.model = uri.Model{Schema: h.schema, Catalog: testutil.Catalog(t, h.schema, handler)}
	return h
}

func (h *harness) dispatcher(resolver *paging.Resolver) *Dispatcher {
	return New(h.schema, planner.New(0), resolver, h.exec)
}

func (h *harness) request(t *testing.T, raw string, options uri.Options) Request {
	t.Helper()
	path, err := uri.ParsePath(raw, h.model)
	require.NoError(t, err)
	return Request{Path: path, Options: options, Header: http.Header{}}
}

func intPtr(v int) *int { return &v }

func TestDispatch_RoutesOnTerminalKind(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)

	tests := []struct {
		path string
		want ProcessorKind
	}{
		{path: "/People/$count", want: ProcessorCount},
		{path: "/People(1)/Roles/$count", want: ProcessorCount},
		{path: "/HeadCount()", want: ProcessorFunction},
		{path: "/People(1)/RoleCount()", want: ProcessorFunction},
		{path: "/People", want: ProcessorNavigation},
		{path: "/People(1)/Roles", want: ProcessorNavigation},
		{path: "/People(1)/Name", want: ProcessorNavigation},
		{path: "/People(1)/Name/$value", want: ProcessorNavigation},
		{path: "/People(1)/Address", want: ProcessorNavigation},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			proc, err := d.Dispatch(context.Background(), h.request(t, tt.path, uri.Options{}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, proc.Kind())
		})
	}
}

func TestDispatch_FunctionAfterNavigationRejected(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)

	_, err := d.Dispatch(context.Background(), h.request(t, "/People(1)/Roles(2)/Person/RoleCount()", uri.Options{}))
	require.Error(t, err)
	assert.Equal(t, odataerr.KindFunctionWithNavigationNotSupported, odataerr.KindOf(err))
	assert.Equal(t, http.StatusNotImplemented, odataerr.StatusOf(err))

	path := &uri.Path{Segments: []uri.Segment{
		{Kind: uri.KindEntitySet, Name: "People"},
		{Kind: uri.KindNavigationProperty, Name: "Roles"},
		{Kind: uri.KindFunction, Name: "Fn"},
	}}
	_, err = d.Dispatch(context.Background(), Request{Path: path})
	assert.Equal(t, odataerr.KeyFunctionWithNavigationNotSupported, odataerr.KeyOf(err))
}

func TestDispatch_UnsupportedResourceType(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)

	for _, raw := range []string{"/People(1)/Roles/$ref", "/Archive"} {
		_, err := d.Dispatch(context.Background(), h.request(t, raw, uri.Options{}))
		assert.Equal(t, odataerr.KindUnsupportedResourceType, odataerr.KindOf(err), raw)
	}

	// every segment of a navigation read is checked, not just the terminal
	mixed := &uri.Path{Segments: []uri.Segment{
		{Kind: uri.KindEntitySet, Name: "People"},
		{Kind: uri.KindAction, Name: "Promote"},
		{Kind: uri.KindPrimitiveProperty, Name: "Name"},
	}}
	_, err := d.Dispatch(context.Background(), Request{Path: mixed})
	require.Error(t, err)
	assert.Equal(t, odataerr.KeyUnsupportedResourceType, odataerr.KeyOf(err))
	assert.Equal(t, []string{"action", "Promote"}, mustAs(t, err).Params)

	_, err = d.Dispatch(context.Background(), Request{Path: &uri.Path{}})
	assert.Equal(t, odataerr.KindBadRequest, odataerr.KindOf(err))
}

func mustAs(t *testing.T, err error) *odataerr.Error {
	t.Helper()
	e, ok := odataerr.As(err)
	require.True(t, ok)
	return e
}

func TestDispatch_SkipTokenWithoutPaging(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)
	withToken := uri.Options{SkipToken: "opaque"}

	for _, raw := range []string{"/People/$count", "/HeadCount()", "/People", "/People(1)/Roles"} {
		_, err := d.Dispatch(context.Background(), h.request(t, raw, withToken))
		require.Error(t, err, raw)
		assert.Equal(t, odataerr.KindPagingNotImplemented, odataerr.KindOf(err), raw)
		assert.Equal(t, http.StatusNotImplemented, odataerr.StatusOf(err), raw)
	}

	_, err := d.Dispatch(context.Background(), h.request(t, "/People/$count", uri.Options{}))
	assert.NoError(t, err)
}

func TestNavigation_RawWindow(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)

	h.mock.ExpectQuery(peopleSelect + " ORDER BY `t0`.`id` ASC LIMIT 2 OFFSET 1").
		WillReturnRows(sqlmock.NewRows(peopleColumns).
			AddRow(int64(2), "Ada", int64(36), "Main St", "London").
			AddRow(int64(3), "Alan", nil, nil, nil))

	proc, err := d.Dispatch(context.Background(), h.request(t, "/People", uri.Options{Top: intPtr(2), Skip: intPtr(1)}))
	require.NoError(t, err)
	result, err := proc.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ShapeCollection, result.Shape)
	assert.Empty(t, result.NextToken)
	assert.Nil(t, result.Count)
	assert.Equal(t, []any{
		map[string]any{"Id": int64(2), "Name": "Ada", "Age": int64(36), "Address": map[string]any{"Street": "Main St", "City": "London"}},
		map[string]any{"Id": int64(3), "Name": "Alan", "Age": nil, "Address": map[string]any{"Street": nil, "City": nil}},
	}, result.Value)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestNavigation_ServerDrivenPaging(t *testing.T) {
	h := newHarness(t, nil)
	provider := paging.NewMemoryProvider(paging.MemoryConfig{PageSize: 2}, nil)
	d := h.dispatcher(paging.NewResolver(provider, 0))
	ctx := context.Background()

	h.mock.ExpectQuery("SELECT COUNT(*) FROM `people` AS `t0`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(3)))
	h.mock.ExpectQuery(peopleSelect + " ORDER BY `t0`.`id` ASC LIMIT 2").
		WillReturnRows(sqlmock.NewRows(peopleColumns).
			AddRow(int64(1), "Ada", nil, nil, nil).
			AddRow(int64(2), "Alan", nil, nil, nil))

	proc, err := d.Dispatch(ctx, h.request(t, "/People", uri.Options{}))
	require.NoError(t, err)
	first, err := proc.Process(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first.NextToken)
	assert.Len(t, first.Value, 2)

	h.mock.ExpectQuery(peopleSelect + " ORDER BY `t0`.`id` ASC LIMIT 1 OFFSET 2").
		WillReturnRows(sqlmock.NewRows(peopleColumns).AddRow(int64(3), "Grace", nil, nil, nil))

	proc, err = d.Dispatch(ctx, h.request(t, "/People", uri.Options{SkipToken: first.NextToken}))
	require.NoError(t, err)
	second, err := proc.Process(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.NextToken)
	assert.Len(t, second.Value, 1)

	_, err = d.Dispatch(ctx, h.request(t, "/People", uri.Options{SkipToken: first.NextToken}))
	assert.Equal(t, odataerr.KindPagingGone, odataerr.KindOf(err))
	assert.Equal(t, http.StatusGone, odataerr.StatusOf(err))
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestNavigation_InlineCount(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)

	h.mock.ExpectQuery("SELECT `t1`.`id` AS `Id`, `t1`.`person_id` AS `PersonId`, `t1`.`role_name` AS `RoleName` FROM `roles` AS `t1` "+
		"WHERE `t1`.`person_id` IN (SELECT `t0`.`id` FROM `people` AS `t0` WHERE `t0`.`id` = ?) AND `t1`.`role_name` = ? ORDER BY `t1`.`id` ASC LIMIT 100").
		WithArgs(int64(1), "admin").
		WillReturnRows(sqlmock.NewRows([]string{"Id", "PersonId", "RoleName"}).AddRow(int64(4), int64(1), "admin"))
	h.mock.ExpectQuery("SELECT COUNT(*) FROM `roles` AS `t1` "+
		"WHERE `t1`.`person_id` IN (SELECT `t0`.`id` FROM `people` AS `t0` WHERE `t0`.`id` = ?) AND `t1`.`role_name` = ?").
		WithArgs(int64(1), "admin").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(1)))

	options := uri.Options{Filter: "RoleName eq 'admin'", Count: true}
	proc, err := d.Dispatch(context.Background(), h.request(t, "/People(1)/Roles", options))
	require.NoError(t, err)
	result, err := proc.Process(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Count)
	assert.Equal(t, int64(1), *result.Count)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestNavigation_SingleResults(t *testing.T) {
	keyed := peopleSelect + " WHERE `t0`.`id` = ? ORDER BY `t0`.`id` ASC"

	tests := []struct {
		name    string
		path    string
		sql     string
		columns []string
		row     []driver.Value
		shape   Shape
		want    any
	}{
		{
			name:    "entity",
			path:    "/People(1)",
			sql:     keyed,
			columns: peopleColumns,
			row:     []driver.Value{int64(1), "Ada", int64(36), "Main St", "London"},
			shape:   ShapeEntity,
			want:    map[string]any{"Id": int64(1), "Name": "Ada", "Age": int64(36), "Address": map[string]any{"Street": "Main St", "City": "London"}},
		},
		{
			name:    "primitive",
			path:    "/People(1)/Name",
			sql:     "SELECT `t0`.`name` AS `Name` FROM `people` AS `t0` WHERE `t0`.`id` = ? ORDER BY `t0`.`id` ASC",
			columns: []string{"Name"},
			row:     []driver.Value{"Ada"},
			shape:   ShapeProperty,
			want:    "Ada",
		},
		{
			name:    "raw value",
			path:    "/People(1)/Name/$value",
			sql:     "SELECT `t0`.`name` AS `Name` FROM `people` AS `t0` WHERE `t0`.`id` = ? ORDER BY `t0`.`id` ASC",
			columns: []string{"Name"},
			row:     []driver.Value{"Ada"},
			shape:   ShapeRaw,
			want:    "Ada",
		},
		{
			name: "complex",
			path: "/People(1)/Address",
			sql: "SELECT `t0`.`street` AS `Address.Street`, `t0`.`city` AS `Address.City` FROM `people` AS `t0` " +
				"WHERE `t0`.`id` = ? ORDER BY `t0`.`id` ASC",
			columns: []string{"Address.Street", "Address.City"},
			row:     []driver.Value{"Main St", "London"},
			shape:   ShapeEntity,
			want:    map[string]any{"Street": "Main St", "City": "London"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			d := h.dispatcher(nil)
			h.mock.ExpectQuery(tt.sql).WithArgs(int64(1)).
				WillReturnRows(sqlmock.NewRows(tt.columns).AddRow(tt.row...))

			proc, err := d.Dispatch(context.Background(), h.request(t, tt.path, uri.Options{}))
			require.NoError(t, err)
			result, err := proc.Process(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.shape, result.Shape)
			assert.Equal(t, tt.want, result.Value)
			assert.NoError(t, h.mock.ExpectationsWereMet())
		})
	}
}

func TestNavigation_MissingEntityIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)
	h.mock.ExpectQuery(peopleSelect + " WHERE `t0`.`id` = ? ORDER BY `t0`.`id` ASC").WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(peopleColumns))

	proc, err := d.Dispatch(context.Background(), h.request(t, "/People(9)", uri.Options{}))
	require.NoError(t, err)
	_, err = proc.Process(context.Background())
	assert.Equal(t, http.StatusNotFound, odataerr.StatusOf(err))
}

func TestNavigation_InvalidFilter(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)

	proc, err := d.Dispatch(context.Background(), h.request(t, "/People", uri.Options{Filter: "Name eq"}))
	require.NoError(t, err)
	_, err = proc.Process(context.Background())
	assert.Equal(t, odataerr.KeyInvalidFilterSyntax, odataerr.KeyOf(err))
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestCountProcessor(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)
	h.mock.ExpectQuery("SELECT COUNT(*) FROM `people` AS `t0` WHERE `t0`.`age` > ?").WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(12)))

	proc, err := d.Dispatch(context.Background(), h.request(t, "/People/$count", uri.Options{Filter: "Age gt 30", Top: intPtr(1)}))
	require.NoError(t, err)
	result, err := proc.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{Shape: ShapeRaw, Value: int64(12)}, result)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestFunctionProcessor(t *testing.T) {
	t.Run("bound to entity", func(t *testing.T) {
		h := newHarness(t, int64(3))
		proc, err := h.dispatcher(nil).Dispatch(context.Background(), h.request(t, "/People(7)/RoleCount()", uri.Options{}))
		require.NoError(t, err)
		result, err := proc.Process(context.Background())
		require.NoError(t, err)

		assert.Equal(t, &Result{Shape: ShapeProperty, Value: int64(3)}, result)
		require.Len(t, h.calls, 1)
		assert.Equal(t, map[string]any{"person": map[string]any{"Id": int64(7)}}, h.calls[0])
	})

	t.Run("unbound collection", func(t *testing.T) {
		h := newHarness(t, []any{map[string]any{"Id": int64(1), "Address.City": "Paris"}})
		proc, err := h.dispatcher(nil).Dispatch(context.Background(), h.request(t, "/TopEarners(minAge=30)", uri.Options{}))
		require.NoError(t, err)
		result, err := proc.Process(context.Background())
		require.NoError(t, err)

		assert.Equal(t, ShapeCollection, result.Shape)
		assert.Equal(t, []any{map[string]any{"Id": int64(1), "Address": map[string]any{"City": "Paris"}}}, result.Value)
		assert.Equal(t, map[string]any{"minAge": int64(30)}, h.calls[0])
	})

	t.Run("empty collection", func(t *testing.T) {
		h := newHarness(t, nil)
		proc, err := h.dispatcher(nil).Dispatch(context.Background(), h.request(t, "/TopEarners(minAge=30)", uri.Options{}))
		require.NoError(t, err)
		result, err := proc.Process(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []any{}, result.Value)
	})
}

func TestActionProcessor(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)

	req := h.request(t, "/People(1)/Promote", uri.Options{})
	req.Body = map[string]any{"level": float64(2)}
	proc, err := d.DispatchAction(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ProcessorAction, proc.Kind())
	result, err := proc.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{}, result.Value)
	assert.Equal(t, map[string]any{"person": map[string]any{"Id": int64(1)}, "level": float64(2)}, h.calls[0])

	req.Body = map[string]any{"level": 2, "rank": 1}
	proc, err = d.DispatchAction(context.Background(), req)
	require.NoError(t, err)
	_, err = proc.Process(context.Background())
	assert.Equal(t, odataerr.KeyInvalidQueryOption, odataerr.KeyOf(err))

	proc, err = d.DispatchAction(context.Background(), h.request(t, "/Archive", uri.Options{}))
	require.NoError(t, err)
	result, err = proc.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ShapeNone, result.Shape)

	_, err = d.DispatchAction(context.Background(), h.request(t, "/People", uri.Options{}))
	assert.Equal(t, odataerr.KindUnsupportedResourceType, odataerr.KindOf(err))
}

func TestDispatchModify(t *testing.T) {
	h := newHarness(t, nil)
	d := h.dispatcher(nil)
	req := h.request(t, "/People(1)", uri.Options{})

	tests := []struct {
		method string
		key    odataerr.Key
	}{
		{method: http.MethodPost, key: odataerr.KeyNotSupportedCreate},
		{method: http.MethodPut, key: odataerr.KeyNotSupportedUpdate},
		{method: http.MethodPatch, key: odataerr.KeyNotSupportedUpdate},
		{method: http.MethodDelete, key: odataerr.KeyNotSupportedDelete},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			proc, err := d.DispatchModify(tt.method, req)
			require.NoError(t, err)
			assert.Equal(t, ProcessorModify, proc.Kind())
			_, err = proc.Process(context.Background())
			assert.Equal(t, tt.key, odataerr.KeyOf(err))
			assert.Equal(t, odataerr.KindNotImplemented, odataerr.KindOf(err))
			assert.Equal(t, http.StatusNotImplemented, odataerr.StatusOf(err))
		})
	}

	_, err := d.DispatchModify(http.MethodOptions, req)
	assert.Equal(t, http.StatusMethodNotAllowed, odataerr.StatusOf(err))
}

func TestBindArguments_RequiredParameter(t *testing.T) {
	schema := testutil.Schema(t)
	registry := operation.NewRegistry()
	notNull := false
	require.NoError(t, registry.Register(operation.Spec{
		Name:       "rank",
		Kind:       operation.KindFunction,
		Parameters: []operation.ParameterSpec{{Name: "limit", Type: "int32", Hints: edmtype.Hints{Nullable: &notNull}}},
		Return:     &operation.ReturnSpec{Type: "int32"},
		Handler:    testutil.Noop,
	}))
	catalog, err := registry.Build(context.Background(), naming.Default(), schema)
	require.NoError(t, err)
	d, ok := catalog.Lookup("Rank")
	require.True(t, ok)

	_, err = bindArguments(d, nil, map[string]any{})
	assert.Equal(t, odataerr.KeyInvalidQueryOption, odataerr.KeyOf(err))

	args, err := bindArguments(d, nil, map[string]any{"limit": int64(5)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"limit": int64(5)}, args)
}

func TestShapeRow(t *testing.T) {
	got := shapeRow(map[string]any{"Id": 1, "Address.City": "Oslo", "Address.Street": nil})
	assert.Equal(t, map[string]any{"Id": 1, "Address": map[string]any{"City": "Oslo", "Street": nil}}, got)
}

func TestFunctionProcessor_BoundCatalogStatement(t *testing.T) {
	h := newHarness(t, nil)
	specs, err := operation.ParseCatalog([]byte(`
operations:
  - name: roleNames
    kind: function
    bound: true
    parameters:
      - {name: person, type: Person}
    return: {type: "[]string"}
    statement: SELECT role_name FROM roles WHERE person_id = ? ORDER BY role_name
    args: [person.Id]
`))
	require.NoError(t, err)
	registry := operation.NewRegistry()
	for _, spec := range specs {
		require.NoError(t, registry.Register(spec))
	}
	catalog, err := registry.Build(context.Background(), naming.Default(), h.schema)
	require.NoError(t, err)
	h.model.Catalog = catalog

	h.mock.ExpectQuery("SELECT role_name FROM roles WHERE person_id = ? ORDER BY role_name").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"role_name"}).AddRow("admin").AddRow("editor"))

	proc, err := h.dispatcher(nil).Dispatch(context.Background(), h.request(t, "/People(7)/RoleNames()", uri.Options{}))
	require.NoError(t, err)
	result, err := proc.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ShapeCollection, result.Shape)
	assert.Equal(t, []any{"admin", "editor"}, result.Value)
	require.NoError(t, h.mock.ExpectationsWereMet())
}
