package paging

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-odata/internal/cursor"
	"tidb-odata/internal/odataerr"
	"tidb-odata/internal/uri"
)

func intPtr(v int) *int { return &v }

func countOf(n int64) Counter {
	return func(context.Context) (int64, error) { return n, nil }
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestResolve_SkipTokenWithoutProvider(t *testing.T) {
	r := NewResolver(nil, 0)
	_, err := r.Resolve(context.Background(), Request{Options: uri.Options{SkipToken: "abc"}})
	require.Error(t, err)
	assert.Equal(t, odataerr.KindPagingNotImplemented, odataerr.KindOf(err))
	assert.Equal(t, odataerr.KeyPagingNotImplemented, odataerr.KeyOf(err))
	assert.Equal(t, http.StatusNotImplemented, odataerr.StatusOf(err))
}

func TestResolve_UnknownTokenIsGone(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	provider := NewMemoryProvider(MemoryConfig{PageSize: 10, TTL: time.Minute}, clock.Now)
	r := NewResolver(provider, 0)

	for _, token := range []string{"garbage", cursor.EncodeToken("never-issued")} {
		_, err := r.Resolve(context.Background(), Request{Options: uri.Options{SkipToken: token}})
		require.Error(t, err)
		assert.Equal(t, odataerr.KindPagingGone, odataerr.KindOf(err))
		assert.Equal(t, odataerr.KeyPagingGone, odataerr.KeyOf(err))
		assert.Equal(t, http.StatusGone, odataerr.StatusOf(err))
	}
}

func TestResolve_ExpiredTokenIsGone(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	provider := NewMemoryProvider(MemoryConfig{PageSize: 10, TTL: time.Minute}, clock.Now)
	r := NewResolver(provider, 0)

	first, err := r.Resolve(context.Background(), Request{Count: countOf(30)})
	require.NoError(t, err)
	require.True(t, first.HasNext())

	clock.Advance(time.Minute)
	_, err = r.Resolve(context.Background(), Request{Options: uri.Options{SkipToken: first.Token()}})
	assert.Equal(t, odataerr.KindPagingGone, odataerr.KindOf(err))
	assert.Equal(t, 0, provider.Len())
}

func TestResolve_RawOptionsWithoutProvider(t *testing.T) {
	r := NewResolver(nil, 50)

	page, err := r.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Skip())
	assert.Equal(t, 50, page.Top())
	assert.False(t, page.HasNext())

	page, err = r.Resolve(context.Background(), Request{Options: uri.Options{Skip: intPtr(20), Top: intPtr(5)}})
	require.NoError(t, err)
	assert.Equal(t, 20, page.Skip())
	assert.Equal(t, 5, page.Top())

	assert.Equal(t, DefaultPageSize, NewResolver(nil, 0).defaultTop)
}

func TestResolve_ProviderWalksPages(t *testing.T) {
	provider := NewMemoryProvider(MemoryConfig{PageSize: 10}, nil)
	r := NewResolver(provider, 0)
	path := &uri.Path{Raw: "/People"}

	page, err := r.Resolve(context.Background(), Request{Path: path, Count: countOf(25)})
	require.NoError(t, err)
	assert.Equal(t, [2]int{0, 10}, [2]int{page.Skip(), page.Top()})
	assert.Same(t, path, page.Path())

	var windows [][2]int
	for page.HasNext() {
		token := page.Token()
		page, err = r.Resolve(context.Background(), Request{Options: uri.Options{SkipToken: token}})
		require.NoError(t, err)
		windows = append(windows, [2]int{page.Skip(), page.Top()})
		assert.Same(t, path, page.Path())

		_, err = r.Resolve(context.Background(), Request{Options: uri.Options{SkipToken: token}})
		assert.Equal(t, odataerr.KindPagingGone, odataerr.KindOf(err), "tokens resolve once")
	}
	assert.Equal(t, [][2]int{{10, 10}, {20, 5}}, windows)
	assert.Equal(t, 0, provider.Len())
}

func TestResolve_ProviderHonorsClientWindow(t *testing.T) {
	provider := NewMemoryProvider(MemoryConfig{PageSize: 10}, nil)
	r := NewResolver(provider, 0)

	page, err := r.Resolve(context.Background(), Request{
		Options: uri.Options{Skip: intPtr(5), Top: intPtr(12)},
		Count:   countOf(100),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Skip())
	assert.Equal(t, 10, page.Top())
	require.True(t, page.HasNext())

	page, err = r.Resolve(context.Background(), Request{Options: uri.Options{SkipToken: page.Token()}})
	require.NoError(t, err)
	assert.Equal(t, 15, page.Skip())
	assert.Equal(t, 2, page.Top())
	assert.False(t, page.HasNext())
}

func TestResolve_PreferMaxPageSize(t *testing.T) {
	provider := NewMemoryProvider(MemoryConfig{PageSize: 10, MaxPageSize: 20}, nil)
	r := NewResolver(provider, 0)

	header := http.Header{}
	header.Set("Prefer", "return=minimal, odata.maxpagesize=4")
	page, err := r.Resolve(context.Background(), Request{Header: header, Count: countOf(9)})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Top())
	assert.Equal(t, 4, page.AppliedPageSize())

	header.Set("Prefer", "odata.maxpagesize=500")
	page, err = r.Resolve(context.Background(), Request{Header: header, Count: countOf(90)})
	require.NoError(t, err)
	assert.Equal(t, 20, page.Top())
	assert.Equal(t, 20, page.AppliedPageSize())

	header.Set("Prefer", "odata.maxpagesize=lots")
	_, err = r.Resolve(context.Background(), Request{Header: header})
	assert.Equal(t, odataerr.KeyInvalidPreferHeader, odataerr.KeyOf(err))
	assert.Equal(t, http.StatusBadRequest, odataerr.StatusOf(err))
}

func TestPreferredPageSize(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    int
		wantErr bool
	}{
		{"absent", nil, 0, false},
		{"plain", []string{"odata.maxpagesize=8"}, 8, false},
		{"quoted", []string{`odata.maxpagesize="8"`}, 8, false},
		{"second header", []string{"respond-async", "odata.MaxPageSize=3"}, 3, false},
		{"zero", []string{"odata.maxpagesize=0"}, 0, true},
		{"missing value", []string{"odata.maxpagesize"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			for _, v := range tt.values {
				header.Add("Prefer", v)
			}
			got, err := PreferredPageSize(header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type decliningProvider struct{}

func (decliningProvider) FirstPage(context.Context, FirstPageRequest) (*Page, error) { return nil, nil }
func (decliningProvider) NextPage(context.Context, string) (*Page, error)            { return nil, nil }

func TestResolve_ProviderDeclinesFirstPage(t *testing.T) {
	r := NewResolver(decliningProvider{}, 7)
	page, err := r.Resolve(context.Background(), Request{Options: uri.Options{Skip: intPtr(3)}})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Skip())
	assert.Equal(t, 7, page.Top())
}

func TestResolve_CountFailureAborts(t *testing.T) {
	r := NewResolver(NewMemoryProvider(MemoryConfig{}, nil), 0)
	boom := errors.New("count failed")
	_, err := r.Resolve(context.Background(), Request{Count: func(context.Context) (int64, error) { return 0, boom }})
	assert.ErrorIs(t, err, boom)
}

func TestMemoryProvider_UnknownCountKeepsIssuingTokens(t *testing.T) {
	provider := NewMemoryProvider(MemoryConfig{PageSize: 5}, nil)
	r := NewResolver(provider, 0)

	page, err := r.Resolve(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Top())
	assert.True(t, page.HasNext())
	assert.Equal(t, 1, provider.Len())
}
