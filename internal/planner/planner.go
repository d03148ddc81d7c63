// Package planner converts resolved resource paths into parameterized SQL.
// It handles key lookups, navigation through foreign keys, filtering, ordering,
// projection and paging windows.
package planner

import (
	"errors"
	"fmt"

	"tidb-odata/internal/filter"
	"tidb-odata/internal/uri"
)

// ErrNoPrimaryKey is returned when references are requested from a table without a key.
var ErrNoPrimaryKey = errors.New("no primary key")

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Query describes one read against the entity model.
type Query struct {
	Path    *uri.Path
	Filter  filter.Node
	OrderBy []uri.OrderItem
	Select  []string
	Skip    int
	// Top <= 0 reads without a limit.
	Top int
}

// Planner builds statements. MaxTop caps Top when positive.
type Planner struct {
	MaxTop int
}

// New creates a planner.
func New(maxTop int) *Planner {
	return &Planner{MaxTop: maxTop}
}

func (p *Planner) limit(top int) int {
	if p != nil && p.MaxTop > 0 && (top <= 0 || top > p.MaxTop) {
		return p.MaxTop
	}
	return top
}

func aliasFor(depth int) string {
	return fmt.Sprintf("t%d", depth)
}
