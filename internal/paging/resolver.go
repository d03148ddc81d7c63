package paging

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"tidb-odata/internal/logging"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/uri"
)

// Counter runs the count-only variant of a request's query.
type Counter func(ctx context.Context) (int64, error)

// Request is what a page is resolved from.
type Request struct {
	Path    *uri.Path
	Options uri.Options
	Header  http.Header
	// Count is optional; without it providers see a count of -1.
	Count Counter
}

// FirstPageRequest is handed to a Provider when a request carries no token.
type FirstPageRequest struct {
	Path          *uri.Path
	Options       uri.Options
	PreferredSize int
	Count         int64
}

// Provider stores continuation state for server-driven paging. It is shared
// across requests and must be safe for concurrent use.
type Provider interface {
	// FirstPage mints the first page. A nil page means the provider declines and
	// the raw $skip/$top window applies.
	FirstPage(ctx context.Context, req FirstPageRequest) (*Page, error)
	// NextPage resolves a continuation token. A nil page means the token is
	// unknown or expired.
	NextPage(ctx context.Context, token string) (*Page, error)
}

// Resolver resolves pages. A nil provider disables server-driven paging.
type Resolver struct {
	provider   Provider
	defaultTop int
}

// NewResolver creates a resolver. defaultTop <= 0 selects DefaultPageSize.
func NewResolver(provider Provider, defaultTop int) *Resolver {
	if defaultTop <= 0 {
		defaultTop = DefaultPageSize
	}
	return &Resolver{provider: provider, defaultTop: defaultTop}
}

// CheckToken fails with PagingNotImplemented when a continuation token arrives
// while server-driven paging is off.
func (r *Resolver) CheckToken(token string) error {
	if token != "" && r.provider == nil {
		return odataerr.New(odataerr.KindPagingNotImplemented, odataerr.KeyPagingNotImplemented, http.StatusNotImplemented)
	}
	return nil
}

// Resolve produces the page for req. The provider path and the raw-option path
// are exclusive: a provider-resolved page is returned as is.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Page, error) {
	token := req.Options.SkipToken
	if err := r.CheckToken(token); err != nil {
		return Page{}, err
	}
	if r.provider == nil {
		return r.rawPage(req), nil
	}

	logger := logging.FromContext(ctx)
	if token != "" {
		page, err := r.provider.NextPage(ctx, token)
		if err != nil {
			return Page{}, err
		}
		if page == nil {
			logger.Debug("skip token not resolvable", "token", token)
			recordPaging(ctx, observability.PagingGone)
			return Page{}, odataerr.New(odataerr.KindPagingGone, odataerr.KeyPagingGone, http.StatusGone)
		}
		recordPaging(ctx, observability.PagingResolved)
		if page.HasNext() {
			recordPaging(ctx, observability.PagingMinted)
		}
		return *page, nil
	}

	preferred, err := PreferredPageSize(req.Header)
	if err != nil {
		return Page{}, err
	}
	count := int64(-1)
	if req.Count != nil {
		if count, err = req.Count(ctx); err != nil {
			return Page{}, err
		}
	}
	page, err := r.provider.FirstPage(ctx, FirstPageRequest{
		Path:          req.Path,
		Options:       req.Options,
		PreferredSize: preferred,
		Count:         count,
	})
	if err != nil {
		return Page{}, err
	}
	if page == nil {
		logger.Debug("paging provider declined, using query options")
		return r.rawPage(req), nil
	}
	if page.HasNext() {
		recordPaging(ctx, observability.PagingMinted)
	}
	return *page, nil
}

func recordPaging(ctx context.Context, event string) {
	if metrics := observability.MetricsFromContext(ctx); metrics != nil {
		metrics.RecordPaging(ctx, event)
	}
}

func (r *Resolver) rawPage(req Request) Page {
	skip, top := 0, r.defaultTop
	if req.Options.Skip != nil {
		skip = *req.Options.Skip
	}
	if req.Options.Top != nil {
		top = *req.Options.Top
	}
	return NewPage(req.Path, req.Options, skip, top, "")
}

const maxPageSizePreference = "odata.maxpagesize"

// PreferredPageSize reads odata.maxpagesize from the Prefer headers. It
// returns 0 when the preference is absent.
func PreferredPageSize(header http.Header) (int, error) {
	for _, value := range header.Values("Prefer") {
		for _, pref := range strings.Split(value, ",") {
			name, arg, found := strings.Cut(strings.TrimSpace(pref), "=")
			if !strings.EqualFold(strings.TrimSpace(name), maxPageSizePreference) {
				continue
			}
			size, err := strconv.Atoi(strings.Trim(strings.TrimSpace(arg), `"`))
			if !found || err != nil || size <= 0 {
				return 0, odataerr.BadRequest(odataerr.KeyInvalidPreferHeader, pref)
			}
			return size, nil
		}
	}
	return 0, nil
}
