// Package paging resolves the window of rows a navigation request reads, either
// from $skip/$top or from server-driven paging through a Provider.
package paging

import "tidb-odata/internal/uri"

// DefaultPageSize applies when neither the client nor the configuration gives a size.
const DefaultPageSize = 100

// Page is an immutable, request-scoped window. Skip and Top are always concrete.
type Page struct {
	path     *uri.Path
	options  uri.Options
	skip     int
	top      int
	token    string
	pageSize int
}

// NewPage creates a page. An empty token means there is no following page.
func NewPage(path *uri.Path, options uri.Options, skip, top int, token string) Page {
	return Page{path: path, options: options, skip: skip, top: top, token: token}
}

func (p Page) Path() *uri.Path      { return p.path }
func (p Page) Options() uri.Options { return p.options }
func (p Page) Skip() int            { return p.skip }
func (p Page) Top() int             { return p.top }
func (p Page) Token() string        { return p.token }

// HasNext reports whether a continuation token was issued.
func (p Page) HasNext() bool { return p.token != "" }

// AppliedPageSize is the odata.maxpagesize preference that was honored, or 0.
func (p Page) AppliedPageSize() int { return p.pageSize }

// WithAppliedPageSize returns a copy recording the honored page size.
func (p Page) WithAppliedPageSize(size int) Page {
	p.pageSize = size
	return p
}
