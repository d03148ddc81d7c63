// Package introspection discovers database schema metadata from TiDB's information_schema.
// It extracts tables, columns, primary keys and foreign keys, and shapes them into the
// entity model served by the query pipeline.
package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tidb-odata/internal/edmtype"
	"tidb-odata/internal/naming"
)

// Column represents a database column and the property it is published as.
type Column struct {
	Name            string
	DataType        string
	ColumnType      string
	IsNullable      bool
	IsPrimaryKey    bool
	IsGenerated     bool
	IsAutoIncrement bool
	Comment         string
	// PropertyName is the resolved property name for this column.
	PropertyName string
	// Type is the property type derived from the SQL column type.
	Type *edmtype.TypeRef
}

// ForeignKey represents one column of a foreign key constraint.
type ForeignKey struct {
	ColumnName       string // e.g., "person_id"
	ReferencedTable  string // e.g., "people"
	ReferencedColumn string // e.g., "id"
	ConstraintName   string // e.g., "roles_ibfk_1"
	OrdinalPosition  int
}

// Relationship is a navigation property derived from either direction of a foreign key.
// LocalColumns[i] joins to RemoteColumns[i].
type Relationship struct {
	Name          string
	ToMany        bool
	RemoteTable   string
	LocalColumns  []string
	RemoteColumns []string
}

// Table represents a database table or view published as an entity type.
type Table struct {
	Name    string
	IsView  bool
	Comment string
	// EntityTypeName is the resolved entity type name, e.g. "Person".
	EntityTypeName string
	// EntitySetName is the resolved entity set name, e.g. "People".
	EntitySetName string
	Columns       []Column
	ForeignKeys   []ForeignKey
	Relationships []Relationship
}

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// IntrospectDatabaseContext queries information_schema and builds the entity model.
func IntrospectDatabaseContext(ctx context.Context, db Queryer, databaseName, namespace string, namer *naming.Namer, complexTypes ...ComplexType) (*Schema, error) {
	ctx, span := startSpan(ctx, "introspection.build_schema",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	infos, err := getTables(ctx, db, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	tables := make([]Table, 0, len(infos))
	for _, info := range infos {
		table, err := describeTable(ctx, db, databaseName, info)
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		tables = append(tables, table)
	}

	schema, err := NewSchema(namespace, tables, namer, complexTypes...)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("db.tables", len(schema.Tables)))
	return schema, nil
}

// describeTable loads the columns of one table or view. Views carry no key or
// foreign key metadata.
func describeTable(ctx context.Context, db Queryer, databaseName string, info tableInfo) (Table, error) {
	table := Table{Name: info.Name, IsView: info.IsView, Comment: info.Comment}
	columns, err := getColumns(ctx, db, databaseName, info.Name)
	if err != nil {
		return table, fmt.Errorf("failed to get columns for %s: %w", info.Name, err)
	}
	table.Columns = columns
	if info.IsView {
		return table, nil
	}

	primaryKeys, err := getPrimaryKeys(ctx, db, databaseName, info.Name)
	if err != nil {
		return table, fmt.Errorf("failed to get primary keys for table %s: %w", info.Name, err)
	}
	for i := range table.Columns {
		table.Columns[i].IsPrimaryKey = slices.Contains(primaryKeys, table.Columns[i].Name)
	}

	table.ForeignKeys, err = getForeignKeys(ctx, db, databaseName, info.Name)
	if err != nil {
		return table, fmt.Errorf("failed to get foreign keys for table %s: %w", info.Name, err)
	}
	return table, nil
}

type tableInfo struct {
	Name    string
	IsView  bool
	Comment string
}

const (
	tablesQuery = `
		SELECT TABLE_NAME, TABLE_TYPE, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME`

	columnsQuery = `
		SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, COLUMN_COMMENT, IS_NULLABLE, EXTRA
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`

	primaryKeysQuery = `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`

	foreignKeysQuery = `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`
)

// scanAll runs one information_schema query inside its own span and scans
// every row with scan.
func scanAll[T any](ctx context.Context, db Queryer, spanName, query string, scan func(*sql.Rows) (T, error), args ...any) (out []T, err error) {
	attrs := []attribute.KeyValue{attribute.String("db.name", fmt.Sprint(args[0]))}
	if len(args) > 1 {
		attrs = append(attrs, attribute.String("db.table", fmt.Sprint(args[1])))
	}
	ctx, span := startSpan(ctx, spanName, attrs...)
	defer func() {
		recordSpanError(span, err)
		span.End()
	}()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func getTables(ctx context.Context, db Queryer, databaseName string) ([]tableInfo, error) {
	return scanAll(ctx, db, "introspection.get_tables", tablesQuery, func(rows *sql.Rows) (tableInfo, error) {
		var info tableInfo
		var tableType string
		var comment sql.NullString
		if err := rows.Scan(&info.Name, &tableType, &comment); err != nil {
			return info, err
		}
		info.IsView = strings.EqualFold(tableType, "VIEW")
		info.Comment = strings.TrimSpace(comment.String)
		return info, nil
	}, databaseName)
}

func getColumns(ctx context.Context, db Queryer, databaseName, tableName string) ([]Column, error) {
	return scanAll(ctx, db, "introspection.get_columns", columnsQuery, func(rows *sql.Rows) (Column, error) {
		var col Column
		var isNullable, extra string
		var comment sql.NullString
		if err := rows.Scan(&col.Name, &col.DataType, &col.ColumnType, &comment, &isNullable, &extra); err != nil {
			return col, err
		}
		col.Comment = strings.TrimSpace(comment.String)
		col.IsNullable = strings.EqualFold(isNullable, "YES")
		extra = strings.ToLower(extra)
		col.IsAutoIncrement = strings.Contains(extra, "auto_increment")
		col.IsGenerated = strings.Contains(extra, "generated")
		return col, nil
	}, databaseName, tableName)
}

func getPrimaryKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]string, error) {
	return scanAll(ctx, db, "introspection.get_primary_keys", primaryKeysQuery, func(rows *sql.Rows) (string, error) {
		var name string
		err := rows.Scan(&name)
		return name, err
	}, databaseName, tableName)
}

func getForeignKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]ForeignKey, error) {
	return scanAll(ctx, db, "introspection.get_foreign_keys", foreignKeysQuery, func(rows *sql.Rows) (ForeignKey, error) {
		var fk ForeignKey
		err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition)
		return fk, err
	}, databaseName, tableName)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("tidb-odata/internal/introspection").Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
