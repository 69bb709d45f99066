package middleware

import (
	"net/http"
	"strings"
)

// CORS allows browser clients on the configured origins. An entry of "*"
// opens the API to every origin.
type CORS struct {
	origins  []string
	allowAll bool
}

func NewCORS(origins []string) *CORS {
	c := &CORS{origins: origins}
	for _, origin := range origins {
		if origin == "*" {
			c.allowAll = true
		}
	}
	return c
}

func (c *CORS) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (c.allowAll || c.allowed(origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CORS) allowed(origin string) bool {
	for _, candidate := range c.origins {
		if candidate == origin || strings.HasSuffix(origin, candidate) {
			return true
		}
	}
	return false
}
