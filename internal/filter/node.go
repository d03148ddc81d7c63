// Package filter holds the operator tree for $filter expressions and lowers it
// into squirrel predicates.
package filter

import "strings"

// Operator is the symbolic kind of a filter node.
type Operator string

const (
	OpNot        Operator = "NOT"
	OpEq         Operator = "EQ"
	OpNe         Operator = "NE"
	OpGt         Operator = "GT"
	OpGe         Operator = "GE"
	OpLt         Operator = "LT"
	OpLe         Operator = "LE"
	OpAnd        Operator = "AND"
	OpOr         Operator = "OR"
	OpIn         Operator = "IN"
	OpContains   Operator = "CONTAINS"
	OpStartsWith Operator = "STARTSWITH"
	OpEndsWith   Operator = "ENDSWITH"
)

// IsComparison reports whether op compares two operands.
func (op Operator) IsComparison() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		return true
	}
	return false
}

// IsLogical reports whether op combines two predicates.
func (op Operator) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// Expression is an operand: a Member, a Literal or a nested Node.
type Expression interface {
	expression()
}

// Member is a property path relative to the resource being filtered.
type Member struct {
	Path []string
}

// Literal is a constant operand. A nil Value is the null literal.
type Literal struct {
	Value any
}

func (Member) expression()  {}
func (Literal) expression() {}

func (m Member) String() string {
	return strings.Join(m.Path, "/")
}

// Node is an operator node. The set of implementations is closed.
type Node interface {
	Expression
	Operator() Operator
	// Name is the protocol token of the operator, used in diagnostics.
	Name() string
	node()
}

// Unary negates its operand.
type Unary struct {
	Op      Operator
	Operand Expression
}

// Binary is a comparison or logical operator.
type Binary struct {
	Op    Operator
	Left  Expression
	Right Expression
}

// Membership tests Left against an ordered, possibly empty list of values.
type Membership struct {
	Left  Expression
	Right []Expression
}

// Function is a string-matching method call.
type Function struct {
	Op   Operator
	Args []Expression
}

func (*Unary) expression()      {}
func (*Binary) expression()     {}
func (*Membership) expression() {}
func (*Function) expression()   {}

func (*Unary) node()      {}
func (*Binary) node()     {}
func (*Membership) node() {}
func (*Function) node()   {}

func (n *Unary) Operator() Operator      { return n.Op }
func (n *Binary) Operator() Operator     { return n.Op }
func (n *Membership) Operator() Operator { return OpIn }
func (n *Function) Operator() Operator   { return n.Op }

func (n *Unary) Name() string      { return strings.ToLower(string(n.Op)) }
func (n *Binary) Name() string     { return strings.ToLower(string(n.Op)) }
func (n *Membership) Name() string { return "in" }
func (n *Function) Name() string   { return strings.ToLower(string(n.Op)) }

// Constructors used by the parser and by callers building trees directly.

func Not(operand Expression) *Unary { return &Unary{Op: OpNot, Operand: operand} }

func Compare(op Operator, left, right Expression) *Binary {
	return &Binary{Op: op, Left: left, Right: right}
}

func And(left, right Expression) *Binary { return &Binary{Op: OpAnd, Left: left, Right: right} }

func Or(left, right Expression) *Binary { return &Binary{Op: OpOr, Left: left, Right: right} }

func In(left Expression, right ...Expression) *Membership {
	return &Membership{Left: left, Right: right}
}

func Call(op Operator, args ...Expression) *Function { return &Function{Op: op, Args: args} }

// Path builds a Member from a slash-separated property path.
func Path(path string) Member { return Member{Path: strings.Split(path, "/")} }

// Value builds a Literal.
func Value(v any) Literal { return Literal{Value: v} }
