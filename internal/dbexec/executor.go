// Package dbexec provides database query execution abstractions.
// Processors and SQL-backed operations run their statements through a
// QueryExecutor so tests can substitute sqlmock-backed handles.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution. It is also the persistence session
// handed to operation handlers.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return rows, nil
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	result, err := e.db.ExecContext(ctx, query, args...)
	return result, NormalizeError(err)
}

// ScanMaps reads every remaining row into a column-name keyed map.
// Byte slices are converted to strings.
func ScanMaps(rows Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = ConvertValue(values[i])
		}
		results = append(results, row)
	}
	return results, NormalizeError(rows.Err())
}

// ConvertValue normalizes driver values for serialization.
func ConvertValue(val any) any {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
