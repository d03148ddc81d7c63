package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corsHandler(t *testing.T, cfg CORSConfig) http.Handler {
	t.Helper()
	return CORSMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func corsRequest(method, origin string, preflight bool) *http.Request {
	req := httptest.NewRequest(method, "/odata/People", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	}
	return req
}

func TestCORSMiddleware_Disabled(t *testing.T) {
	rr := httptest.NewRecorder()
	corsHandler(t, CORSConfig{AllowedOrigins: []string{"*"}}).ServeHTTP(rr, corsRequest(http.MethodGet, "https://app.example.com", false))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_OriginMatching(t *testing.T) {
	cfg := CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://App.Example.com/", "https://*.tenant.io", " "},
	}
	tests := []struct {
		origin  string
		allowed bool
	}{
		{origin: "https://app.example.com", allowed: true},
		{origin: "https://eu.tenant.io", allowed: true},
		{origin: "https://a.b.tenant.io", allowed: true},
		{origin: "https://tenant.io", allowed: false},
		{origin: "https://.tenant.io", allowed: false},
		{origin: "http://eu.tenant.io", allowed: false},
		{origin: "https://evil.example.org", allowed: false},
	}
	handler := corsHandler(t, cfg)
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, corsRequest(http.MethodGet, tt.origin, false))

			assert.Equal(t, http.StatusOK, rr.Code)
			if tt.allowed {
				assert.Equal(t, tt.origin, rr.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "Origin", rr.Header().Get("Vary"))
			} else {
				assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSMiddleware_ExposesODataHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	corsHandler(t, CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		ExposeHeaders:  []string{"x-request-id", "ETag"},
	}).ServeHTTP(rr, corsRequest(http.MethodGet, "https://any.example.com", false))

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rr.Header().Get("Vary"))
	assert.Equal(t, "OData-Version, Preference-Applied, X-Request-ID, ETag", rr.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := CORSMiddleware(CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "PATCH"},
		AllowedHeaders: []string{"Authorization", "prefer"},
		MaxAge:         600,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the resource handler")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, corsRequest(http.MethodOptions, "https://app.example.com", true))

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, PATCH", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Accept, OData-Version, OData-MaxVersion, Prefer, Authorization", rr.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rr.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, []string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"}, rr.Header().Values("Vary"))
}

func TestCORSMiddleware_PreflightDefaults(t *testing.T) {
	rr := httptest.NewRecorder()
	corsHandler(t, CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}).
		ServeHTTP(rr, corsRequest(http.MethodOptions, "https://app.example.com", true))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Empty(t, rr.Header().Get("Access-Control-Max-Age"))
}

func TestCORSMiddleware_DisallowedPreflight(t *testing.T) {
	rr := httptest.NewRecorder()
	corsHandler(t, CORSConfig{Enabled: true, AllowedOrigins: []string{"https://app.example.com"}}).
		ServeHTTP(rr, corsRequest(http.MethodOptions, "https://evil.example.org", true))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSMiddleware_PlainOptionsPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	corsHandler(t, CORSConfig{Enabled: true, AllowedOrigins: []string{"https://app.example.com"}}).
		ServeHTTP(rr, corsRequest(http.MethodOptions, "https://app.example.com", false))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_CredentialsEchoOrigin(t *testing.T) {
	rr := httptest.NewRecorder()
	corsHandler(t, CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
	}).ServeHTTP(rr, corsRequest(http.MethodGet, "https://app.example.com", false))

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSMiddleware_NoOrigin(t *testing.T) {
	rr := httptest.NewRecorder()
	corsHandler(t, CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}}).
		ServeHTTP(rr, corsRequest(http.MethodGet, "", false))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
