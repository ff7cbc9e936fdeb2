package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/dunamismax/pixelpress/internal/id"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := id.FromHeader(r.Header.Get(requestIDHeader))
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// corsPolicy decides the Access-Control-Allow-Origin value for a request.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCORSPolicy(allowed []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{}, len(allowed))}
	if len(allowed) == 0 {
		p.allowAll = true
	}
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			p.allowAll = true
			continue
		}
		if origin != "" {
			p.origins[origin] = struct{}{}
		}
	}
	return p
}

// allowOrigin returns "*" for a wildcard list, the origin itself when it is
// listed, and "null" otherwise.
func (p corsPolicy) allowOrigin(origin string) string {
	if p.allowAll {
		return "*"
	}
	if _, ok := p.origins[origin]; ok && origin != "" {
		return origin
	}
	return "null"
}

// withCORS decorates every response and answers preflight requests for any
// path with 200.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		allowed := s.cors.allowOrigin(r.Header.Get("Origin"))
		h.Set("Access-Control-Allow-Origin", allowed)
		if allowed != "*" {
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
