package paging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tidb-odata/internal/cursor"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/uri"
)

// MemoryConfig configures a MemoryProvider.
type MemoryConfig struct {
	// PageSize applies when the client states no preference.
	PageSize int
	// MaxPageSize caps any preferred size. Zero leaves sizes uncapped.
	MaxPageSize int
	// TTL is how long an issued token stays resolvable.
	TTL time.Duration
}

// MemoryProvider keeps continuation state in process memory. Tokens are
// single-use and expire after the configured TTL.
type MemoryProvider struct {
	cfg MemoryConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]window
}

// window is the state behind a token: the page it yields and where the
// client's overall window ends (-1 when unbounded).
type window struct {
	path     *uri.Path
	options  uri.Options
	skip     int
	size     int
	end      int64
	expires  time.Time
	pageSize int
}

// NewMemoryProvider creates a provider. now defaults to time.Now.
func NewMemoryProvider(cfg MemoryConfig, now func() time.Time) *MemoryProvider {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryProvider{cfg: cfg, now: now, entries: make(map[string]window)}
}

// FirstPage honors the client's $skip/$top as the outer window and splits it
// into pages of the effective size.
func (m *MemoryProvider) FirstPage(ctx context.Context, req FirstPageRequest) (*Page, error) {
	size := m.cfg.PageSize
	applied := 0
	if req.PreferredSize > 0 {
		size = req.PreferredSize
		applied = req.PreferredSize
	}
	if m.cfg.MaxPageSize > 0 && size > m.cfg.MaxPageSize {
		size = m.cfg.MaxPageSize
		if applied > 0 {
			applied = size
		}
	}

	skip := 0
	if req.Options.Skip != nil {
		skip = *req.Options.Skip
	}
	end := req.Count
	if req.Options.Top != nil {
		limit := int64(skip + *req.Options.Top)
		if end < 0 || limit < end {
			end = limit
		}
	}

	w := window{path: req.Path, options: req.Options, skip: skip, size: size, end: end, pageSize: applied}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	page := m.pageLocked(w)
	logging.FromContext(ctx).Debug("minted first page",
		"skip", page.Skip(), "top", page.Top(), "count", req.Count, "has_next", page.HasNext())
	return &page, nil
}

// NextPage resolves token once. Unknown, malformed, or expired tokens yield nil.
func (m *MemoryProvider) NextPage(_ context.Context, token string) (*Page, error) {
	id, err := cursor.DecodeToken(token)
	if err != nil {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	delete(m.entries, id)
	if !m.now().Before(w.expires) {
		return nil, nil
	}
	page := m.pageLocked(w)
	return &page, nil
}

// Len reports the number of live tokens.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// pageLocked builds the page for w and issues a token for the rest of the
// window, if any remains.
func (m *MemoryProvider) pageLocked(w window) Page {
	top := w.size
	if w.end >= 0 {
		remaining := w.end - int64(w.skip)
		if remaining < 0 {
			remaining = 0
		}
		if remaining < int64(top) {
			top = int(remaining)
		}
	}

	token := ""
	nextSkip := w.skip + top
	if top > 0 && (w.end < 0 || int64(nextSkip) < w.end) {
		id := uuid.NewString()
		next := w
		next.skip = nextSkip
		next.expires = m.now().Add(m.cfg.TTL)
		m.entries[id] = next
		token = cursor.EncodeToken(id)
	}
	return NewPage(w.path, w.options, w.skip, top, token).WithAppliedPageSize(w.pageSize)
}

func (m *MemoryProvider) sweepLocked() {
	now := m.now()
	for id, w := range m.entries {
		if !now.Before(w.expires) {
			delete(m.entries, id)
		}
	}
}
