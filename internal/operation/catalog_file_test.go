package operation

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-odata/internal/dbexec"
)

func TestStatementArgs(t *testing.T) {
	args := map[string]any{
		"person": map[string]any{"Id": int64(7), "Code": "x"},
		"level":  int64(2),
		"all":    nil,
	}
	tests := []struct {
		name    string
		names   []string
		want    []any
		wantErr string
	}{
		{name: "plain", names: []string{"level"}, want: []any{int64(2)}},
		{name: "key member", names: []string{"person.Id", "level"}, want: []any{int64(7), int64(2)}},
		{name: "whole key by property name", names: []string{"person"}, want: []any{"x", int64(7)}},
		{name: "collection binding", names: []string{"all.Id"}, want: []any{nil}},
		{name: "missing key property", names: []string{"person.Name"}, wantErr: "no property Name"},
		{name: "member of scalar", names: []string{"level.Id"}, wantErr: "not an entity key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := statementArgs(tt.names, args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCatalog_BoundStatement(t *testing.T) {
	specs, err := ParseCatalog([]byte(`
operations:
  - name: roleNames
    kind: function
    bound: true
    parameters:
      - {name: person, type: Person}
    return: {type: "[]string"}
    statement: SELECT role_name FROM roles WHERE person_id = ?
    args: [person]
`))
	require.NoError(t, err)
	require.Len(t, specs, 1)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT role_name FROM roles WHERE person_id =").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"role_name"}).AddRow("admin"))

	result, err := specs[0].Handler(context.Background(), nil, dbexec.NewStandardExecutor(db),
		map[string]any{"person": map[string]any{"Id": int64(7)}})
	require.NoError(t, err)
	assert.Equal(t, []any{"admin"}, result)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = ParseCatalog([]byte("operations:\n  - name: x\n    statement: SELECT ?\n    args: [person.Id]\n"))
	assert.ErrorContains(t, err, "unknown argument person.Id")
}
