// Package middleware provides cross-cutting HTTP middleware attached at the
// transport boundary: CORS and request rate limiting.
package middleware

import (
	"net/http"
)

// CORSConfig represents CORS configuration options
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         string
}

// CORSMiddleware provides Cross-Origin Resource Sharing support
type CORSMiddleware struct {
	config CORSConfig
}

// NewCORSMiddleware creates a new CORS middleware with configuration
func NewCORSMiddleware(config CORSConfig) *CORSMiddleware {
	if len(config.AllowedMethods) == 0 {
		config.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(config.AllowedHeaders) == 0 {
		config.AllowedHeaders = []string{"Accept", "Content-Type", "Content-Length", "Authorization", "X-Request-ID"}
	}
	if config.MaxAge == "" {
		config.MaxAge = "86400"
	}
	return &CORSMiddleware{config: config}
}

// Handler wraps the next handler with CORS header handling.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := false
		if len(m.config.AllowedOrigins) == 0 {
			allowed = true
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowedOrigin := range m.config.AllowedOrigins {
				if allowedOrigin == "*" {
					allowed = true
					w.Header().Set("Access-Control-Allow-Origin", "*")
					break
				}
				if allowedOrigin == origin {
					allowed = true
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Methods", joinHeader(m.config.AllowedMethods))
			w.Header().Set("Access-Control-Allow-Headers", joinHeader(m.config.AllowedHeaders))
			w.Header().Set("Access-Control-Max-Age", m.config.MaxAge)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func joinHeader(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}
