package operation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/edmtype"
)

// catalogFile is the on-disk form of a list of raw operation descriptors.
//
//	operations:
//	  - name: topEarners
//	    kind: function
//	    parameters:
//	      - {name: minSalary, type: decimal, hints: {precision: 20, scale: 5}}
//	    return: {type: "[]Person"}
//	    statement: SELECT * FROM people WHERE salary >= ?
//	    args: [minSalary]
//
// An args entry "person.Id" reads one key property of a binding parameter; a
// bare binding parameter name expands to all its key values ordered by
// property name.
type catalogFile struct {
	Operations []fileOperation `yaml:"operations"`
}

type fileOperation struct {
	Name          string          `yaml:"name"`
	ExternalName  string          `yaml:"external_name"`
	Kind          string          `yaml:"kind"`
	Bound         bool            `yaml:"bound"`
	EntitySetPath string          `yaml:"entity_set_path"`
	NoImport      bool            `yaml:"no_import"`
	Parameters    []ParameterSpec `yaml:"parameters"`
	Return        *ReturnSpec     `yaml:"return"`
	Statement     string          `yaml:"statement"`
	Args          []string        `yaml:"args"`
}

// LoadCatalogFile reads raw operation descriptors from a YAML file. Every entry
// must carry a statement; it becomes a SQL-backed handler.
func LoadCatalogFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operation catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes YAML operation descriptors.
func ParseCatalog(data []byte) ([]Spec, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse operation catalog: %w", err)
	}
	specs := make([]Spec, 0, len(file.Operations))
	for i, op := range file.Operations {
		kind, err := ParseKind(op.Kind)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Name, err)
		}
		if op.Statement == "" {
			return nil, fmt.Errorf("operation %d (%s): statement is required", i, op.Name)
		}
		for _, arg := range op.Args {
			param, _, _ := strings.Cut(arg, ".")
			if !hasParameter(op.Parameters, param) {
				return nil, fmt.Errorf("operation %d (%s): unknown argument %s", i, op.Name, arg)
			}
		}
		specs = append(specs, Spec{
			Name:          op.Name,
			ExternalName:  op.ExternalName,
			Kind:          kind,
			Bound:         op.Bound,
			EntitySetPath: op.EntitySetPath,
			NoImport:      op.NoImport,
			Parameters:    op.Parameters,
			Return:        op.Return,
			Handler:       StatementHandler(op.Statement, op.Args, op.Return),
		})
	}
	return specs, nil
}

func hasParameter(params []ParameterSpec, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// StatementHandler runs a parameterized statement through the session. Arguments
// are bound positionally from argNames. Without a return type the statement is
// executed; otherwise rows are shaped by the declared return.
func StatementHandler(statement string, argNames []string, ret *ReturnSpec) Handler {
	names := append([]string(nil), argNames...)
	return func(ctx context.Context, _ any, session dbexec.QueryExecutor, args map[string]any) (any, error) {
		values, err := statementArgs(names, args)
		if err != nil {
			return nil, err
		}
		if ret == nil {
			_, err := session.ExecContext(ctx, statement, values...)
			return nil, err
		}

		rows, err := session.QueryContext(ctx, statement, values...)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = rows.Close()
		}()
		raw := edmtype.ParseRaw(ret.Type)
		elem := raw.Tag
		if ret.ElementType != "" {
			elem = ret.ElementType
		}
		var results []any
		if edmtype.IsPrimitiveTag(elem) {
			results, err = scanFirstColumn(rows)
		} else {
			var maps []map[string]any
			maps, err = dbexec.ScanMaps(rows)
			for _, m := range maps {
				results = append(results, m)
			}
		}
		if err != nil {
			return nil, err
		}
		if raw.Collection {
			if results == nil {
				results = []any{}
			}
			return results, nil
		}
		if len(results) == 0 {
			return nil, nil
		}
		return results[0], nil
	}
}

// statementArgs flattens the named arguments into driver values. Entity keys
// arrive as maps keyed by property name.
func statementArgs(names []string, args map[string]any) ([]any, error) {
	values := make([]any, 0, len(names))
	for _, name := range names {
		param, member, dotted := strings.Cut(name, ".")
		value := args[param]
		key, isKey := value.(map[string]any)
		switch {
		case dotted && value == nil:
			values = append(values, nil)
		case dotted && !isKey:
			return nil, fmt.Errorf("argument %s: %s is not an entity key", name, param)
		case dotted:
			v, ok := key[member]
			if !ok {
				return nil, fmt.Errorf("argument %s: key has no property %s", name, member)
			}
			values = append(values, v)
		case isKey:
			props := make([]string, 0, len(key))
			for prop := range key {
				props = append(props, prop)
			}
			sort.Strings(props)
			for _, prop := range props {
				values = append(values, key[prop])
			}
		default:
			values = append(values, value)
		}
	}
	return values, nil
}

func scanFirstColumn(rows dbexec.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if len(values) > 0 {
			out = append(out, dbexec.ConvertValue(values[0]))
		}
	}
	return out, dbexec.NormalizeError(rows.Err())
}
