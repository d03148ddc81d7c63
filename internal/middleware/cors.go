package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures Cross-Origin Resource Sharing for browser clients of
// the service root.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// Headers an OData client needs regardless of configuration.
var (
	odataRequestHeaders  = []string{"Content-Type", "Accept", "OData-Version", "OData-MaxVersion", "Prefer"}
	odataResponseHeaders = []string{"OData-Version", "Preference-Applied", RequestIDHeader}
	defaultCORSMethods   = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
)

// originPattern matches "https://*.example.com" style origins.
type originPattern struct {
	prefix string // "https://"
	suffix string // ".example.com"
}

func (o originPattern) matches(origin string) bool {
	return len(origin) > len(o.prefix)+len(o.suffix) &&
		strings.HasPrefix(origin, o.prefix) && strings.HasSuffix(origin, o.suffix)
}

// corsPolicy is the precomputed form of a CORSConfig.
type corsPolicy struct {
	anyOrigin   bool
	exact       map[string]struct{}
	wildcards   []originPattern
	credentials bool
	methods     string
	headers     string
	expose      string
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		exact:       make(map[string]struct{}),
		credentials: cfg.AllowCredentials,
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSuffix(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
		case origin == "*":
			p.anyOrigin = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(strings.ToLower(origin), "://*")
			p.wildcards = append(p.wildcards, originPattern{prefix: scheme + "://", suffix: host})
		default:
			p.exact[strings.ToLower(origin)] = struct{}{}
		}
	}

	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	p.methods = joinHeaderValues(methods)
	p.headers = joinHeaderValues(append(append([]string{}, odataRequestHeaders...), cfg.AllowedHeaders...))
	p.expose = joinHeaderValues(append(append([]string{}, odataResponseHeaders...), cfg.ExposeHeaders...))
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// allows reports whether origin may read responses.
func (p *corsPolicy) allows(origin string) bool {
	if p.anyOrigin {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, pattern := range p.wildcards {
		if pattern.matches(origin) {
			return true
		}
	}
	return false
}

func (p *corsPolicy) writeOrigin(h http.Header, origin string) {
	// Credentialed responses must echo the origin.
	if p.anyOrigin && !p.credentials {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

// CORSMiddleware adds CORS headers and answers preflight requests. The OData
// protocol headers are always allowed and exposed on top of the configured
// lists.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed := policy.allows(origin)
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !preflight {
				if allowed {
					policy.writeOrigin(w.Header(), origin)
					w.Header().Set("Access-Control-Expose-Headers", policy.expose)
				}
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h := w.Header()
			policy.writeOrigin(h, origin)
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", policy.methods)
			h.Set("Access-Control-Allow-Headers", policy.headers)
			if policy.maxAge != "" {
				h.Set("Access-Control-Max-Age", policy.maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// joinHeaderValues joins values case-insensitively deduplicated, keeping the
// first spelling.
func joinHeaderValues(values []string) string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return strings.Join(out, ", ")
}
