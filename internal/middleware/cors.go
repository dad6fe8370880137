package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// Origins is the set of browser origins allowed to call the API. A "*"
// entry allows any origin. Same-origin websocket upgrades are always
// admitted, see CheckOrigin.
type Origins struct {
	any   bool
	allow map[string]struct{}
}

func NewOrigins(allowed []string) Origins {
	o := Origins{allow: make(map[string]struct{}, len(allowed))}
	for _, origin := range allowed {
		if origin == "*" {
			o.any = true
			continue
		}
		o.allow[origin] = struct{}{}
	}
	return o
}

// Allowed reports whether origin may call the API. Requests without an
// Origin header are not cross-origin and always pass.
func (o Origins) Allowed(origin string) bool {
	if origin == "" || o.any {
		return true
	}
	_, ok := o.allow[origin]
	return ok
}

// CheckOrigin is the websocket upgrader hook. Browsers send Origin on every
// upgrade, so a request from the page's own host always passes.
func (o Origins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return o.Allowed(origin) || sameOrigin(origin, r.Host)
}

func sameOrigin(origin, host string) bool {
	if origin == "" || host == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && origins.Allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
