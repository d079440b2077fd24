package httpapi

import (
	"net/http"
	"regexp"
	"strings"
)

var defaultOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

var originPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1)(:\d+)?$`),
	regexp.MustCompile(`^https://[a-z0-9-]+\.vercel\.app$`),
}

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, Accept"
)

type corsPolicy struct {
	exact map[string]struct{}
}

func newCORSPolicy(extra []string) *corsPolicy {
	p := &corsPolicy{exact: map[string]struct{}{}}
	for _, o := range append(append([]string(nil), defaultOrigins...), extra...) {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			p.exact[o] = struct{}{}
		}
	}
	return p
}

func (p *corsPolicy) allowed(origin string) bool {
	if _, ok := p.exact[origin]; ok {
		return true
	}
	for _, re := range originPatterns {
		if re.MatchString(origin) {
			return true
		}
	}
	return false
}

// wrap answers preflight requests and reflects allowed origins with
// credentials. Requests without an Origin header pass through untouched.
func (p *corsPolicy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		ok := origin != "" && p.allowed(origin)
		if ok {
			h := rw.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !ok {
				rw.WriteHeader(http.StatusForbidden)
				return
			}
			rw.Header().Set("Access-Control-Allow-Methods", corsMethods)
			rw.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			rw.Header().Set("Access-Control-Max-Age", "600")
			rw.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(rw, r)
	})
}
