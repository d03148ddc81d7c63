package uri

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tidb-odata/internal/edmtype"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/operation"
)

// Model is what resource paths resolve against.
type Model struct {
	Schema  *introspection.Schema
	Catalog *operation.Catalog
}

// ParsePath resolves a resource path such as /People('1')/Roles/$count or
// /TopEarners(minSalary=1000) against model.
func ParsePath(raw string, model Model) (*Path, error) {
	if model.Schema == nil {
		return nil, fmt.Errorf("uri: model has no schema")
	}
	parts, err := splitPath(strings.Trim(raw, "/"))
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, unknownResource(raw)
	}

	w := walker{model: model}
	path := &Path{Raw: "/" + strings.Trim(raw, "/")}
	for i, part := range parts {
		if w.closed {
			return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, part, "no segment may follow "+w.last.Name)
		}
		name, inner, hasParens, err := splitSegment(part)
		if err != nil {
			return nil, err
		}
		var seg Segment
		if i == 0 {
			seg, err = w.first(name, inner, hasParens)
		} else {
			seg, err = w.next(name, inner, hasParens)
		}
		if err != nil {
			return nil, err
		}
		w.last = seg
		path.Segments = append(path.Segments, seg)
	}
	return path, nil
}

type walker struct {
	model    Model
	last     Segment
	embedded *introspection.Embedded
	closed   bool
}

func (w *walker) first(name, inner string, hasParens bool) (Segment, error) {
	if table, ok := w.model.Schema.EntitySet(name); ok {
		seg := Segment{Kind: KindEntitySet, Name: name, Table: table, Collection: true}
		if hasParens {
			keys, err := parseKeys(table, inner)
			if err != nil {
				return Segment{}, err
			}
			seg.Keys = keys
			seg.Collection = false
		}
		return seg, nil
	}
	if d, ok := w.model.Catalog.LookupImport(name); ok {
		return w.operationSegment(d, name, inner, hasParens)
	}
	return Segment{}, unknownResource(name)
}

func (w *walker) next(name, inner string, hasParens bool) (Segment, error) {
	prev := w.last
	switch name {
	case "$count":
		if !prev.Collection || hasParens {
			return Segment{}, odataerr.BadRequest(odataerr.KeyUnknownResource, name, "requires a collection")
		}
		w.closed = true
		return Segment{Kind: KindCount, Name: name, Table: prev.Table}, nil
	case "$value":
		if prev.Kind != KindPrimitiveProperty || hasParens {
			return Segment{}, odataerr.BadRequest(odataerr.KeyUnknownResource, name, "requires a primitive property")
		}
		w.closed = true
		return Segment{Kind: KindValue, Name: name, Table: prev.Table, Column: prev.Column}, nil
	case "$ref":
		if prev.Table == nil || w.embedded != nil || prev.Kind == KindPrimitiveProperty {
			return Segment{}, odataerr.BadRequest(odataerr.KeyUnknownResource, name, "requires an entity")
		}
		w.closed = true
		return Segment{Kind: KindRef, Name: name, Table: prev.Table, Collection: prev.Collection}, nil
	}

	if w.embedded != nil {
		return w.complexMember(name, hasParens)
	}
	if prev.Table == nil || prev.Kind == KindPrimitiveProperty {
		return Segment{}, unknownResource(name)
	}
	table := prev.Table

	if !prev.Collection {
		if col, ok := table.Property(name); ok && !hasParens {
			return Segment{Kind: KindPrimitiveProperty, Name: name, Table: table, Column: col}, nil
		}
		if emb, ok := w.model.Schema.Embedded(table, name); ok && !hasParens {
			w.embedded = emb
			return Segment{Kind: KindComplexProperty, Name: name, Table: table, Embedded: emb}, nil
		}
		if rel, target, ok := w.model.Schema.Navigation(table, name); ok {
			seg := Segment{Kind: KindNavigationProperty, Name: name, Table: target, Relationship: rel, Collection: rel.ToMany}
			if hasParens {
				if !rel.ToMany {
					return Segment{}, odataerr.BadRequest(odataerr.KeyUnknownResource, name, "key predicate on single-valued navigation")
				}
				keys, err := parseKeys(target, inner)
				if err != nil {
					return Segment{}, err
				}
				seg.Keys = keys
				seg.Collection = false
			}
			return seg, nil
		}
	}
	if d, ok := w.model.Catalog.LookupBound(w.localName(name), table.EntityTypeName); ok && bindsCollection(d) == prev.Collection {
		return w.operationSegment(d, name, inner, hasParens)
	}
	return Segment{}, unknownResource(name)
}

func bindsCollection(d *operation.Descriptor) bool {
	params := d.Parameters()
	return len(params) > 0 && params[0].Type != nil && params[0].Type.Collection
}

func (w *walker) complexMember(name string, hasParens bool) (Segment, error) {
	if hasParens {
		return Segment{}, unknownResource(name)
	}
	for i := range w.embedded.Type.Properties {
		p := &w.embedded.Type.Properties[i]
		if p.Name != name {
			continue
		}
		seg := Segment{Kind: KindPrimitiveProperty, Name: name, Table: w.last.Table, Embedded: w.embedded}
		if col, ok := w.last.Table.Column(p.Column); ok {
			seg.Column = col
		}
		w.embedded = nil
		return seg, nil
	}
	return Segment{}, unknownResource(name)
}

func (w *walker) operationSegment(d *operation.Descriptor, name, inner string, hasParens bool) (Segment, error) {
	seg := Segment{Name: name, Operation: d}
	switch d.Kind() {
	case operation.KindFunction:
		seg.Kind = KindFunction
		if !hasParens {
			return Segment{}, odataerr.BadRequest(odataerr.KeyUnknownResource, name, "function call requires parentheses")
		}
		args, err := parseArgs(d, inner)
		if err != nil {
			return Segment{}, err
		}
		seg.Args = args
	default:
		seg.Kind = KindAction
		if hasParens {
			return Segment{}, odataerr.BadRequest(odataerr.KeyUnknownResource, name, "action parameters belong in the request body")
		}
		w.closed = true
	}
	if ret := d.ReturnType(); ret != nil {
		seg.Collection = ret.Collection
		if ret.Kind == edmtype.KindEntity {
			if table, ok := w.model.Schema.EntityType(ret.Name); ok {
				seg.Table = table
			}
		}
	}
	return seg, nil
}

func (w *walker) localName(name string) string {
	if ns := w.model.Schema.Namespace; ns != "" {
		return strings.TrimPrefix(name, ns+".")
	}
	return name
}

func parseKeys(table *introspection.Table, inner string) ([]KeyValue, error) {
	keyColumns := table.KeyColumns()
	if len(keyColumns) == 0 {
		return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, table.EntitySetName, "entity has no key")
	}
	pairs, err := splitPairs(inner)
	if err != nil {
		return nil, err
	}
	if len(pairs) != len(keyColumns) {
		return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, table.EntitySetName,
			fmt.Sprintf("expected %d key values, got %d", len(keyColumns), len(pairs)))
	}

	if len(pairs) == 1 && pairs[0].name == "" {
		v, err := parseLiteral(pairs[0].value)
		if err != nil {
			return nil, err
		}
		return []KeyValue{{Column: keyColumns[0].Name, Value: v}}, nil
	}

	byName := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if p.name == "" {
			return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, table.EntitySetName, "composite keys must be named")
		}
		byName[p.name] = p.value
	}
	keys := make([]KeyValue, 0, len(keyColumns))
	for _, col := range keyColumns {
		raw, ok := byName[col.PropertyName]
		if !ok {
			return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, table.EntitySetName, "missing key "+col.PropertyName)
		}
		v, err := parseLiteral(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, KeyValue{Column: col.Name, Value: v})
	}
	return keys, nil
}

func parseArgs(d *operation.Descriptor, inner string) (map[string]any, error) {
	pairs, err := splitPairs(inner)
	if err != nil {
		return nil, err
	}
	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		if p.name == "" {
			return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, d.ExternalName(), "function parameters must be named")
		}
		if _, ok := d.Parameter(p.name); !ok {
			return nil, odataerr.BadRequest(odataerr.KeyUnknownResource, d.ExternalName(), "unknown parameter "+p.name)
		}
		v, err := parseLiteral(p.value)
		if err != nil {
			return nil, err
		}
		args[p.name] = v
	}
	return args, nil
}

// splitPath splits on slashes outside parentheses and string literals.
func splitPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var parts []string
	depth, start, quoted := 0, 0, false
	for i := 0; i < len(raw); i++ {
		switch c := raw[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, malformed(raw)
			}
		case c == '/' && depth == 0:
			parts = append(parts, raw[start:i])
			start = i + 1
		}
	}
	if depth != 0 || quoted {
		return nil, malformed(raw)
	}
	parts = append(parts, raw[start:])
	for _, p := range parts {
		if p == "" {
			return nil, malformed(raw)
		}
	}
	return parts, nil
}

func splitSegment(part string) (name, inner string, hasParens bool, err error) {
	open := strings.IndexByte(part, '(')
	if open < 0 {
		return part, "", false, nil
	}
	if open == 0 || !strings.HasSuffix(part, ")") {
		return "", "", false, malformed(part)
	}
	return part[:open], part[open+1 : len(part)-1], true, nil
}

type pair struct {
	name  string
	value string
}

func splitPairs(inner string) ([]pair, error) {
	if strings.TrimSpace(inner) == "" {
		return nil, nil
	}
	var items []string
	start, quoted := 0, false
	for i := 0; i < len(inner); i++ {
		switch c := inner[i]; {
		case c == '\'':
			quoted = !quoted
		case c == ',' && !quoted:
			items = append(items, inner[start:i])
			start = i + 1
		}
	}
	items = append(items, inner[start:])

	pairs := make([]pair, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, malformed(inner)
		}
		eq := strings.IndexByte(item, '=')
		if eq < 0 || strings.HasPrefix(item, "'") {
			pairs = append(pairs, pair{value: item})
			continue
		}
		pairs = append(pairs, pair{name: strings.TrimSpace(item[:eq]), value: strings.TrimSpace(item[eq+1:])})
	}
	return pairs, nil
}

// parseLiteral reads a primitive literal: a quoted string, a number, true,
// false or null.
func parseLiteral(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "null":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		body := raw[1 : len(raw)-1]
		if strings.Count(strings.ReplaceAll(body, "''", ""), "'") > 0 {
			return nil, malformed(raw)
		}
		return strings.ReplaceAll(body, "''", "'"), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	return nil, malformed(raw)
}

func unknownResource(name string) error {
	return odataerr.New(odataerr.KindBadRequest, odataerr.KeyUnknownResource, http.StatusNotFound, name)
}

func malformed(text string) error {
	return odataerr.BadRequest(odataerr.KeyUnknownResource, text, "malformed")
}
