package odatahttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/dispatch"
	"tidb-odata/internal/middleware"
	"tidb-odata/internal/paging"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/testutil"
	"tidb-odata/internal/uri"
)

const peopleSelect = "SELECT `t0`.`id` AS `Id`, `t0`.`name` AS `Name`, `t0`.`age` AS `Age`, " +
	"`t0`.`street` AS `Address.Street`, `t0`.`city` AS `Address.City` FROM `people` AS `t0`"

var peopleColumns = []string{"Id", "Name", "Age", "Address.Street", "Address.City"}

type fixture struct {
	handler http.Handler
	mock    sqlmock.Sqlmock
	calls   []map[string]any
}

func newFixture(t *testing.T, result any, resolver *paging.Resolver) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{mock: mock}
	schema := testutil.Schema(t)
	catalog := testutil.Catalog(t, schema, func(_ context.Context, _ any, _ dbexec.QueryExecutor, args map[string]any) (any, error) {
		f.calls = append(f.calls, args)
		return result, nil
	})
	d := dispatch.New(schema, planner.New(0), resolver, dbexec.NewStandardExecutor(db))
	f.handler = New(uri.Model{Schema: schema, Catalog: catalog}, d, "/odata/")
	return f
}

func (f *fixture) serve(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServiceDocument(t *testing.T) {
	f := newFixture(t, nil, nil)
	rec := f.serve(http.MethodGet, "/odata/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4.0", rec.Header().Get("OData-Version"))
	body := decode(t, rec)
	assert.Equal(t, "/odata/$metadata", body["@odata.context"])

	var names []string
	for _, entry := range body["value"].([]any) {
		names = append(names, entry.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "People")
	assert.Contains(t, names, "Roles")
	assert.Contains(t, names, "TopEarners")
	assert.Contains(t, names, "HeadCount")
	assert.NotContains(t, names, "Archive")
}

func TestEntityCollection(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.mock.ExpectQuery(peopleSelect+" WHERE `t0`.`age` > ? ORDER BY `t0`.`id` ASC LIMIT 2").
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows(peopleColumns).AddRow(int64(1), "Ada", int64(36), "Main St", "London"))
	f.mock.ExpectQuery("SELECT COUNT(*) FROM `people` AS `t0` WHERE `t0`.`age` > ?").
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(1)))

	rec := f.serve(http.MethodGet, "/odata/People?"+url.Values{"$filter": {"Age gt 30"}, "$top": {"2"}, "$count": {"true"}}.Encode(), "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "/odata/$metadata#People", body["@odata.context"])
	assert.Equal(t, float64(1), body["@odata.count"])
	assert.NotContains(t, body, "@odata.nextLink")
	assert.Equal(t, []any{map[string]any{
		"Id": float64(1), "Name": "Ada", "Age": float64(36),
		"Address": map[string]any{"Street": "Main St", "City": "London"},
	}}, body["value"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestServerDrivenPaging(t *testing.T) {
	provider := paging.NewMemoryProvider(paging.MemoryConfig{PageSize: 2}, nil)
	f := newFixture(t, nil, paging.NewResolver(provider, 0))

	f.mock.ExpectQuery("SELECT COUNT(*) FROM `people` AS `t0`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(3)))
	f.mock.ExpectQuery(peopleSelect + " ORDER BY `t0`.`id` ASC LIMIT 2").
		WillReturnRows(sqlmock.NewRows(peopleColumns).
			AddRow(int64(1), "Ada", nil, nil, nil).
			AddRow(int64(2), "Alan", nil, nil, nil))

	rec := f.serve(http.MethodGet, "/odata/People", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	link, ok := body["@odata.nextLink"].(string)
	require.True(t, ok)
	next, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/odata/People", next.Path)
	token := next.Query().Get("$skiptoken")
	require.NotEmpty(t, token)

	f.mock.ExpectQuery(peopleSelect + " ORDER BY `t0`.`id` ASC LIMIT 1 OFFSET 2").
		WillReturnRows(sqlmock.NewRows(peopleColumns).AddRow(int64(3), "Grace", nil, nil, nil))

	rec = f.serve(http.MethodGet, next.RequestURI(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, decode(t, rec), "@odata.nextLink")

	rec = f.serve(http.MethodGet, next.RequestURI(), "")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSingleResults(t *testing.T) {
	keyed := peopleSelect + " WHERE `t0`.`id` = ? ORDER BY `t0`.`id` ASC"

	t.Run("entity", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		f.mock.ExpectQuery(keyed).WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows(peopleColumns).AddRow(int64(1), "Ada", nil, nil, nil))

		rec := f.serve(http.MethodGet, "/odata/People(1)", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "Ada", body["Name"])
		assert.Equal(t, "/odata/$metadata#People", body["@odata.context"])
	})

	t.Run("missing entity", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		f.mock.ExpectQuery(keyed).WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows(peopleColumns))

		rec := f.serve(http.MethodGet, "/odata/People(9)", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		errBody := decode(t, rec)["error"].(map[string]any)
		assert.Equal(t, "UNKNOWN_RESOURCE", errBody["code"])
	})
}

func TestCount(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.mock.ExpectQuery("SELECT COUNT(*) FROM `people` AS `t0`").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(12)))

	rec := f.serve(http.MethodGet, "/odata/People/$count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeText, rec.Header().Get("Content-Type"))
	assert.Equal(t, "12", rec.Body.String())
}

func TestFunctionAndAction(t *testing.T) {
	t.Run("bound function", func(t *testing.T) {
		f := newFixture(t, int64(3), nil)
		rec := f.serve(http.MethodGet, "/odata/People(7)/RoleCount()", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, float64(3), decode(t, rec)["value"])
		assert.Equal(t, map[string]any{"person": map[string]any{"Id": int64(7)}}, f.calls[0])
	})

	t.Run("bound action", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		rec := f.serve(http.MethodPost, "/odata/People(1)/Promote", `{"level": 2}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []any{}, decode(t, rec)["value"])
		assert.Equal(t, map[string]any{"person": map[string]any{"Id": int64(1)}, "level": int64(2)}, f.calls[0])
	})

	t.Run("action without result", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		rec := f.serve(http.MethodPost, "/odata/Archive", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		rec := f.serve(http.MethodPost, "/odata/People(1)/Promote", `{"level":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.calls)
	})
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		status int
		code   string
	}{
		{name: "unknown entity set", method: http.MethodGet, target: "/odata/Nope", status: http.StatusNotFound, code: "UNKNOWN_RESOURCE"},
		{name: "create", method: http.MethodPost, target: "/odata/People", status: http.StatusNotImplemented, code: "NOT_SUPPORTED_CREATE"},
		{name: "delete", method: http.MethodDelete, target: "/odata/People(1)", status: http.StatusNotImplemented, code: "NOT_SUPPORTED_DELETE"},
		{name: "unknown bound operation", method: http.MethodGet, target: "/odata/People(1)/Roles/Nope()", status: http.StatusNotFound, code: "UNKNOWN_RESOURCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			rec := f.serve(tt.method, tt.target, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			errBody := decode(t, rec)["error"].(map[string]any)
			assert.Equal(t, tt.code, errBody["code"])
			assert.NotEmpty(t, errBody["message"])
		})
	}
}

func TestRequestInfo(t *testing.T) {
	f := newFixture(t, nil, nil)
	var info *middleware.RequestInfo
	inner := f.handler
	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info = &middleware.RequestInfo{Processor: "unknown"}
		inner.ServeHTTP(w, r.WithContext(middleware.ContextWithRequestInfo(r.Context(), info)))
	})

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/odata/People(1)", nil))
	require.NotNil(t, info)
	assert.Equal(t, "modify", info.Processor)
	assert.Equal(t, "not_implemented", info.ErrorKind)
}

func TestNormalizeNumber(t *testing.T) {
	got := normalizeNumber([]any{json.Number("3"), json.Number("2.5"), map[string]any{"n": json.Number("-1")}, "x"})
	assert.Equal(t, []any{int64(3), 2.5, map[string]any{"n": int64(-1)}, "x"}, got)
}
