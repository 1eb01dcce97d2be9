// Package middleware provides HTTP middleware for the TechFlow API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/ashureev/techflow/internal/identity"
)

const corsMaxAge = "600"

var (
	corsAllowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")
	corsAllowHeaders  = strings.Join([]string{"Content-Type", identity.TabHeaderName}, ", ")
	corsExposeHeaders = "Retry-After"
)

// originPolicy decides which origins may call the API. Credentials are only
// granted to origins listed by name, never to a wildcard match.
type originPolicy struct {
	wildcard bool
	named    map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{named: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o == "*" {
			p.wildcard = true
			continue
		}
		p.named[strings.TrimRight(o, "/")] = struct{}{}
	}
	return p
}

func (p originPolicy) allows(origin string) (allowed, credentials bool) {
	if _, ok := p.named[origin]; ok {
		return true, true
	}
	return p.wildcard, false
}

// CORS returns middleware that handles CORS headers. Preflight requests are
// answered here; preflights from unlisted origins get 403.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			allowed, credentials := policy.allows(origin)
			if !allowed {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			if credentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			next.ServeHTTP(w, r)
		})
	}
}
