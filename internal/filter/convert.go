package filter

import (
	"fmt"
	"net/http"
	"reflect"

	sq "github.com/Masterminds/squirrel"

	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/sqlutil"
)

// ColumnResolver maps a member path to a quoted SQL column expression.
type ColumnResolver interface {
	ResolveColumn(path []string) (string, error)
}

// ColumnResolverFunc adapts a function to ColumnResolver.
type ColumnResolverFunc func(path []string) (string, error)

func (f ColumnResolverFunc) ResolveColumn(path []string) (string, error) {
	return f(path)
}

// Converter lowers operator trees into squirrel predicates. It holds no
// per-conversion state; converting the same tree twice yields equal predicates.
type Converter struct {
	columns ColumnResolver
}

// NewConverter creates a converter resolving members through columns.
func NewConverter(columns ColumnResolver) *Converter {
	return &Converter{columns: columns}
}

// InPredicate is a single member-of-list test. An empty list matches nothing.
// A null in the list is carried by Null and lowered to IS NULL, since IN never
// matches NULL.
type InPredicate struct {
	Column string
	Values []any
	Null   bool
}

func (p *InPredicate) ToSql() (string, []interface{}, error) {
	switch {
	case p.Null && len(p.Values) == 0:
		return sq.Eq{p.Column: nil}.ToSql()
	case p.Null:
		return sq.Or{sq.Eq{p.Column: p.Values}, sq.Eq{p.Column: nil}}.ToSql()
	case len(p.Values) == 0:
		return sq.Expr("1=0").ToSql()
	}
	return sq.Eq{p.Column: p.Values}.ToSql()
}

// notPredicate negates a predicate.
type notPredicate struct {
	pred sq.Sqlizer
}

func (n notPredicate) ToSql() (string, []interface{}, error) {
	sql, args, err := n.pred.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}

// Convert lowers node into a predicate. Any failure aborts the whole
// conversion; no partial predicate is returned.
func (c *Converter) Convert(node Node) (sq.Sqlizer, error) {
	switch n := node.(type) {
	case *Unary:
		return c.convertUnary(n)
	case *Binary:
		return c.convertBinary(n)
	case *Membership:
		return c.convertMembership(n)
	case *Function:
		return c.convertFunction(n)
	case nil:
		return nil, unsupported(http.StatusBadRequest, "<nil>")
	default:
		return nil, unsupported(http.StatusNotImplemented, fmt.Sprintf("%T", node))
	}
}

func (c *Converter) convertUnary(n *Unary) (sq.Sqlizer, error) {
	if n.Op != OpNot {
		return nil, unsupported(http.StatusNotImplemented, n.Name())
	}
	inner, err := c.predicate(n.Operand)
	if err != nil {
		return nil, err
	}
	return notPredicate{pred: inner}, nil
}

func (c *Converter) convertBinary(n *Binary) (sq.Sqlizer, error) {
	switch {
	case n.Op.IsLogical():
		left, err := c.predicate(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.predicate(n.Right)
		if err != nil {
			return nil, err
		}
		if n.Op == OpAnd {
			return sq.And{left, right}, nil
		}
		return sq.Or{left, right}, nil
	case n.Op.IsComparison():
		return c.convertComparison(n)
	default:
		return nil, unsupported(http.StatusNotImplemented, n.Name())
	}
}

func (c *Converter) convertComparison(n *Binary) (sq.Sqlizer, error) {
	op := n.Op
	member, literal, ok := memberAndLiteral(n.Left, n.Right)
	if !ok {
		if m, l, flipped := memberAndLiteral(n.Right, n.Left); flipped {
			member, literal, op = m, l, mirror(op)
		} else if left, lok := n.Left.(Member); lok {
			right, rok := n.Right.(Member)
			if !rok {
				return nil, unsupported(http.StatusBadRequest, n.Name())
			}
			return c.compareColumns(op, left, right)
		} else {
			return nil, unsupported(http.StatusBadRequest, n.Name())
		}
	}

	column, err := c.resolve(member)
	if err != nil {
		return nil, err
	}
	value, err := scalar(literal)
	if err != nil {
		return nil, err
	}
	if value == nil && op != OpEq && op != OpNe {
		return nil, unsupported(http.StatusBadRequest, n.Name(), "null")
	}

	switch op {
	case OpEq:
		return sq.Eq{column: value}, nil
	case OpNe:
		return sq.NotEq{column: value}, nil
	case OpGt:
		return sq.Gt{column: value}, nil
	case OpGe:
		return sq.GtOrEq{column: value}, nil
	case OpLt:
		return sq.Lt{column: value}, nil
	case OpLe:
		return sq.LtOrEq{column: value}, nil
	}
	return nil, unsupported(http.StatusNotImplemented, n.Name())
}

var sqlComparison = map[Operator]string{
	OpEq: "=", OpNe: "<>", OpGt: ">", OpGe: ">=", OpLt: "<", OpLe: "<=",
}

func (c *Converter) compareColumns(op Operator, left, right Member) (sq.Sqlizer, error) {
	l, err := c.resolve(left)
	if err != nil {
		return nil, err
	}
	r, err := c.resolve(right)
	if err != nil {
		return nil, err
	}
	return sq.Expr(l + " " + sqlComparison[op] + " " + r), nil
}

func (c *Converter) convertMembership(n *Membership) (sq.Sqlizer, error) {
	member, ok := n.Left.(Member)
	if !ok {
		return nil, unsupported(http.StatusBadRequest, n.Name())
	}
	column, err := c.resolve(member)
	if err != nil {
		return nil, err
	}
	pred := &InPredicate{Column: column, Values: make([]any, 0, len(n.Right))}
	for _, operand := range n.Right {
		literal, ok := operand.(Literal)
		if !ok {
			return nil, unsupported(http.StatusBadRequest, n.Name(), fmt.Sprintf("%T", operand))
		}
		value, err := scalar(literal)
		if err != nil {
			return nil, err
		}
		if value == nil {
			pred.Null = true
			continue
		}
		pred.Values = append(pred.Values, value)
	}
	return pred, nil
}

func (c *Converter) convertFunction(n *Function) (sq.Sqlizer, error) {
	var pattern func(string) string
	switch n.Op {
	case OpContains:
		pattern = func(s string) string { return "%" + sqlutil.EscapeLike(s) + "%" }
	case OpStartsWith:
		pattern = func(s string) string { return sqlutil.EscapeLike(s) + "%" }
	case OpEndsWith:
		pattern = func(s string) string { return "%" + sqlutil.EscapeLike(s) }
	default:
		return nil, unsupported(http.StatusNotImplemented, n.Name())
	}
	if len(n.Args) != 2 {
		return nil, unsupported(http.StatusBadRequest, n.Name())
	}
	member, literal, ok := memberAndLiteral(n.Args[0], n.Args[1])
	if !ok {
		return nil, unsupported(http.StatusBadRequest, n.Name())
	}
	text, ok := literal.Value.(string)
	if !ok {
		return nil, unsupported(http.StatusBadRequest, n.Name(), "string argument required")
	}
	column, err := c.resolve(member)
	if err != nil {
		return nil, err
	}
	return sq.Like{column: pattern(text)}, nil
}

// predicate converts an operand used in a boolean position. Bare members are
// compared with true; boolean literals become constant predicates.
func (c *Converter) predicate(expr Expression) (sq.Sqlizer, error) {
	switch e := expr.(type) {
	case Node:
		return c.Convert(e)
	case Member:
		column, err := c.resolve(e)
		if err != nil {
			return nil, err
		}
		return sq.Eq{column: true}, nil
	case Literal:
		if b, ok := e.Value.(bool); ok {
			if b {
				return sq.Expr("1=1"), nil
			}
			return sq.Expr("1=0"), nil
		}
	}
	return nil, unsupported(http.StatusBadRequest, fmt.Sprintf("%T", expr))
}

func (c *Converter) resolve(m Member) (string, error) {
	if c.columns == nil {
		return "", odataerr.UnsupportedFilter(odataerr.KeyUnknownFilterMember, http.StatusBadRequest, m.String())
	}
	column, err := c.columns.ResolveColumn(m.Path)
	if err != nil {
		if _, ok := odataerr.As(err); ok {
			return "", err
		}
		return "", odataerr.Wrap(err, odataerr.KindUnsupportedFilter, odataerr.KeyUnknownFilterMember,
			http.StatusBadRequest, m.String())
	}
	return column, nil
}

func memberAndLiteral(a, b Expression) (Member, Literal, bool) {
	m, ok := a.(Member)
	if !ok {
		return Member{}, Literal{}, false
	}
	l, ok := b.(Literal)
	if !ok {
		return Member{}, Literal{}, false
	}
	return m, l, true
}

// mirror swaps the sides of a comparison: 5 lt Price is Price gt 5.
func mirror(op Operator) Operator {
	switch op {
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	}
	return op
}

// scalar rejects list-valued literals, which squirrel would expand into IN.
func scalar(l Literal) (any, error) {
	if l.Value == nil {
		return nil, nil
	}
	switch reflect.TypeOf(l.Value).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return nil, unsupported(http.StatusBadRequest, "literal", fmt.Sprintf("%T", l.Value))
	}
	return l.Value, nil
}

func unsupported(status int, params ...string) error {
	return odataerr.UnsupportedFilter(odataerr.KeyUnsupportedFilterExpression, status, params...)
}
